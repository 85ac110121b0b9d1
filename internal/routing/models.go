package routing

import "siteos/internal/directory"

// Any matches any value of a criterion; an empty criterion behaves the same.
const Any = "any"

// LocationState classifies a target relative to the site fence.
type LocationState string

const (
	LocationOnSite  LocationState = "on-site"
	LocationOffSite LocationState = "off-site"
	LocationAny     LocationState = "any"
)

// Criteria are the facts a rule must match. A populated criterion must
// equal the corresponding fact; empty or "any" matches unconditionally.
//
// CallerRole and CallerUserID are modeled for completeness but are not
// evaluated: caller context is not propagated to the evaluation call site.
type Criteria struct {
	TargetRole    directory.Role   `json:"target_role,omitempty"`
	TargetStatus  directory.Status `json:"target_status,omitempty"`
	LocationState LocationState    `json:"location_state,omitempty"`
	CallerRole    directory.Role   `json:"caller_role,omitempty"`
	CallerUserID  string           `json:"caller_user_id,omitempty"`
}

// Action is what a matched rule does with the call.
type Action struct {
	RedirectNumber string `json:"redirect_number"`
	RedirectLabel  string `json:"redirect_label,omitempty"`
}

// Rule is one ordered, conditionally-matched redirection instruction.
// Rules are immutable value objects; priority is list position.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	IsActive    bool     `json:"is_active"`
	Criteria    Criteria `json:"criteria"`
	Action      Action   `json:"action"`
}

// Decision is the outcome of evaluating a prospective call. The caller
// performs the actual dial; evaluation itself has no side effects.
type Decision struct {
	FinalNumber string `json:"final_number"`
	Redirected  bool   `json:"redirected"`
	MatchedRule *Rule  `json:"matched_rule,omitempty"`
}
