package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// minSuffixMatchLen guards suffix resolution against false hits between
// short internal extensions (e.g. "100" vs "0100").
const minSuffixMatchLen = 5

// Repo is an in-memory directory of contacts.
//
// Reads are served from a snapshot under RLock; presence writes go through
// SetPresence only. Entries themselves are value objects.
type Repo struct {
	mu      sync.RWMutex
	entries []Entry
	clock   func() time.Time
}

func NewRepo(seed []Entry) *Repo {
	r := &Repo{clock: time.Now}
	r.entries = make([]Entry, len(seed))
	copy(r.entries, seed)
	return r
}

// LoadFile seeds a repo from a JSON array of entries.
func LoadFile(path string) (*Repo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read contacts file: %w", err)
	}
	var seed []Entry
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("directory: parse contacts file: %w", err)
	}
	return NewRepo(seed), nil
}

// Get returns the entry with the given id.
func (r *Repo) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// List returns a copy of all entries in directory order.
func (r *Repo) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ResolveNumber finds the entry for a dialed number by exact match first,
// then by suffix match in either direction (a stored "+61416000002" should
// resolve a dialed "0416000002" and vice versa). Untracked numbers simply
// fail to resolve; callers treat that as "dial as-is".
func (r *Repo) ResolveNumber(number string) (Entry, bool) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Entry{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.PhoneNumber == number {
			return e, true
		}
	}
	for _, e := range r.entries {
		short := number
		if len(e.PhoneNumber) < len(short) {
			short = e.PhoneNumber
		}
		if len(short) < minSuffixMatchLen {
			continue
		}
		if strings.HasSuffix(e.PhoneNumber, number) || strings.HasSuffix(number, e.PhoneNumber) {
			return e, true
		}
	}
	return Entry{}, false
}

// SetPresence updates status and last-known location for one entry.
// This is the only write path into the directory; it exists for the
// presence tracker (local identity) and the remote presence feed.
func (r *Repo) SetPresence(id string, status Status, loc *Location) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID != id {
			continue
		}
		r.entries[i].Status = status
		if loc != nil {
			l := *loc
			r.entries[i].Location = &l
		}
		r.entries[i].LastSeen = r.clock().UTC()
		return true
	}
	return false
}
