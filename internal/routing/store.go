package routing

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Store holds the ordered rule list for the admin surface.
//
// Updates follow a mutate-then-replace discipline: every write builds a
// fresh slice and swaps it in, so Snapshot always hands Evaluate an
// immutable view. Priority is list position.
type Store struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewStore(seed []Rule) *Store {
	s := &Store{}
	s.rules = make([]Rule, len(seed))
	copy(s.rules, seed)
	for i := range s.rules {
		if s.rules[i].ID == "" {
			s.rules[i].ID = uuid.NewString()
		}
	}
	return s
}

// Snapshot returns the current ordered rule list.
func (s *Store) Snapshot() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Upsert replaces the rule with a matching ID in place, or appends a new
// rule (assigning an ID if absent). Returns the stored rule.
func (s *Store) Upsert(r Rule) Rule {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Rule, len(s.rules))
	copy(next, s.rules)
	for i := range next {
		if next[i].ID == r.ID {
			next[i] = r
			s.rules = next
			return r
		}
	}
	s.rules = append(next, r)
	return r
}

// Delete removes a rule by ID.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Rule, 0, len(s.rules))
	found := false
	for _, r := range s.rules {
		if r.ID == id {
			found = true
			continue
		}
		next = append(next, r)
	}
	if found {
		s.rules = next
	}
	return found
}

// Toggle flips a rule's active flag and returns the updated rule.
func (s *Store) Toggle(id string) (Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Rule, len(s.rules))
	copy(next, s.rules)
	for i := range next {
		if next[i].ID == id {
			next[i].IsActive = !next[i].IsActive
			s.rules = next
			return next[i], true
		}
	}
	return Rule{}, false
}

// Reorder replaces the list order with the given ID sequence, which must
// be a permutation of the stored rule IDs.
func (s *Store) Reorder(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) != len(s.rules) {
		return errors.New("routing: reorder must list every rule exactly once")
	}
	byID := make(map[string]Rule, len(s.rules))
	for _, r := range s.rules {
		byID[r.ID] = r
	}

	next := make([]Rule, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return errors.New("routing: reorder references unknown rule " + id)
		}
		delete(byID, id)
		next = append(next, r)
	}
	s.rules = next
	return nil
}
