package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"siteos/internal/directory"
)

// feedUpdate is the wire shape published by the external presence source
// for remote users.
type feedUpdate struct {
	UserID string           `json:"user_id"`
	Status directory.Status `json:"status"`
	Lat    *float64         `json:"lat,omitempty"`
	Lng    *float64         `json:"lng,omitempty"`
}

// Feed subscribes to the remote presence channel and applies status and
// location updates for remote users into the directory. It is read-only
// input to the core: the feed never derives status itself and never
// touches the local identity (that is the tracker's job).
type Feed struct {
	rdb     *redis.Client
	channel string
	repo    *directory.Repo
	localID string
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFeed(rdb *redis.Client, channel, localID string, repo *directory.Repo, log *slog.Logger) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{rdb: rdb, channel: channel, repo: repo, localID: localID, log: log}
}

// Start begins consuming updates until the context is canceled or Stop is
// called.
func (f *Feed) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.cancel = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	sub := f.rdb.Subscribe(runCtx, f.channel)

	go func() {
		defer close(done)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				f.apply(msg.Payload)
			}
		}
	}()
}

// Stop ends the subscription and waits for the consumer to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Publish announces the local identity's status (and last coordinates, when
// known) on the presence channel for remote peers to consume.
func (f *Feed) Publish(ctx context.Context, status directory.Status, sample *Sample) {
	u := feedUpdate{UserID: f.localID, Status: status}
	if sample != nil {
		u.Lat, u.Lng = &sample.Lat, &sample.Lng
	}
	payload, err := json.Marshal(u)
	if err != nil {
		f.log.Error("presence publish marshal", "err", err)
		return
	}
	if err := f.rdb.Publish(ctx, f.channel, payload).Err(); err != nil {
		f.log.Warn("presence publish failed", "err", err)
	}
}

func (f *Feed) apply(payload string) {
	var u feedUpdate
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		f.log.Warn("presence feed payload rejected", "err", err)
		return
	}
	if u.UserID == "" || u.UserID == f.localID {
		// Local status belongs to the tracker while it is active.
		return
	}

	var loc *directory.Location
	if u.Lat != nil && u.Lng != nil {
		loc = &directory.Location{Lat: *u.Lat, Lng: *u.Lng}
	}
	if !f.repo.SetPresence(u.UserID, u.Status, loc) {
		f.log.Debug("presence feed update for unknown user", "user_id", u.UserID)
	}
}
