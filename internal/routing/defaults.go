package routing

import "siteos/internal/directory"

// DefaultRules is the rule set a fresh process boots with: busy staff go
// to reception, off-site contractors go to the site manager. Admins can
// replace it at runtime through the rules API.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "Busy staff to reception",
			Description: "Staff already on a call are answered by reception instead of ringing out.",
			IsActive:    true,
			Criteria: Criteria{
				TargetRole:    directory.RoleStaff,
				TargetStatus:  directory.StatusBusy,
				LocationState: LocationAny,
			},
			Action: Action{RedirectNumber: "100", RedirectLabel: "Reception"},
		},
		{
			Name:        "Off-site contractors to site manager",
			Description: "Contractors outside the site fence are handled by the site manager.",
			IsActive:    true,
			Criteria: Criteria{
				TargetRole:    directory.RoleContractor,
				LocationState: LocationOffSite,
			},
			Action: Action{RedirectNumber: "+61416000001", RedirectLabel: "Site Manager"},
		},
	}
}
