// Package routing rewrites outbound dial destinations according to
// ordered, first-match rules.
package routing

import (
	"siteos/internal/directory"
	"siteos/internal/geo"
)

// Directory is the minimal lookup the engine needs. The concrete
// implementation is the in-memory directory repo.
type Directory interface {
	ResolveNumber(number string) (directory.Entry, bool)
}

// Evaluate decides the final destination for a prospective call.
//
// It is a pure function of (target, fence, rule list): no side effects, no
// I/O, deterministic for identical inputs. The caller dials only after a
// decision is returned.
//
// Untracked numbers are never rewritten: if the target does not resolve to
// a directory entry the original number passes through unchanged.
func Evaluate(targetNumber string, dir Directory, fence geo.Fence, rules []Rule) Decision {
	passthrough := Decision{FinalNumber: targetNumber}

	if dir == nil {
		return passthrough
	}
	target, ok := dir.ResolveNumber(targetNumber)
	if !ok {
		return passthrough
	}

	loc := locationState(target, fence)

	for i := range rules {
		r := rules[i]
		if !r.IsActive {
			continue
		}
		if !matches(r.Criteria, target, loc) {
			continue
		}
		// First match wins; later rules are never consulted.
		matched := r
		return Decision{
			FinalNumber: r.Action.RedirectNumber,
			Redirected:  true,
			MatchedRule: &matched,
		}
	}
	return passthrough
}

// locationState derives on-site/off-site from the target's last known
// presence. A target with no known location is off-site.
func locationState(e directory.Entry, fence geo.Fence) LocationState {
	if e.Location != nil && fence.Contains(e.Location.Lat, e.Location.Lng) {
		return LocationOnSite
	}
	return LocationOffSite
}

func matches(c Criteria, target directory.Entry, loc LocationState) bool {
	if c.TargetRole != "" && c.TargetRole != Any && c.TargetRole != target.Role {
		return false
	}
	if c.TargetStatus != "" && c.TargetStatus != Any && c.TargetStatus != target.Status {
		return false
	}
	if c.LocationState != "" && c.LocationState != LocationAny && c.LocationState != loc {
		return false
	}
	// CallerRole / CallerUserID: intentionally not evaluated (see Criteria).
	return true
}
