// Package history keeps the append-only record of placed and received
// calls for the current process lifetime.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Record is one call in the history.
//
// Records are never mutated after creation except to backfill
// DurationSeconds when the call ends. RedirectedFrom carries the
// originally dialed number when a routing rule rewrote the destination.
type Record struct {
	ID              string    `json:"id"`
	Number          string    `json:"number"`
	DisplayName     string    `json:"display_name"`
	Direction       Direction `json:"direction"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
	RedirectedFrom  string    `json:"redirected_from,omitempty"`
}

// Log is the in-memory call history, most-recent-first.
// No deduplication and no size cap; bounding is a UI/storage concern.
type Log struct {
	mu      sync.Mutex
	records []Record
	clock   func() time.Time
}

func NewLog() *Log {
	return &Log{clock: time.Now}
}

// Append prepends a record, assigning an ID and start time if absent, and
// returns the stored record.
func (l *Log) Append(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = l.clock().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append([]Record{r}, l.records...)
	return r
}

// MarkEnded backfills the duration of a finished call.
func (l *Log) MarkEnded(id string, durationSeconds int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.records {
		if l.records[i].ID == id {
			l.records[i].DurationSeconds = durationSeconds
			return true
		}
	}
	return false
}

// Records returns a copy of the history, most recent first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Clear empties the history.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}
