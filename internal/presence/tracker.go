// Package presence turns raw geolocation samples into an on-site/off-site
// status against a fixed-radius geofence.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"siteos/internal/directory"
	"siteos/internal/geo"
)

// Sample is one geolocation reading.
type Sample struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Sampler obtains the device's current coordinates. Implementations must
// honor ctx cancellation; the tracker bounds every call with a timeout and
// treats an error as a failure for that tick only.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// Config fixes the geofence and cadence for one tracking session.
// Changing it requires stopping and restarting the tracker.
type Config struct {
	CenterLat    float64
	CenterLng    float64
	RadiusMeters float64

	SampleInterval time.Duration

	// SampleTimeout bounds each individual sample. Defaults to 10s.
	SampleTimeout time.Duration
}

func (c Config) fence() geo.Fence {
	return geo.Fence{Lat: c.CenterLat, Lng: c.CenterLng, RadiusMeters: c.RadiusMeters}
}

// State is the tracker's current view. InsideFence stays nil until the
// first successful sample ("undetermined").
type State struct {
	LastSample  *Sample
	InsideFence *bool
}

// Tracker runs the presence heartbeat: an immediate sample, then one per
// SampleInterval.
//
// Invariants:
//   - A status notification fires only when a sample crosses the fence
//     boundary; unchanged membership is a no-op.
//   - A failed sample is logged and skipped; it never toggles membership
//     and never stops the loop.
//   - No sample or notification is delivered after Stop returns.
type Tracker struct {
	sampler Sampler
	log     *slog.Logger

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewTracker(sampler Sampler, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{sampler: sampler, log: log}
}

// Start begins sampling. onSample fires on every successful sample,
// onStatus only on boundary crossings (entering → available, leaving →
// offline). Both callbacks run on the tracker goroutine.
func (t *Tracker) Start(ctx context.Context, cfg Config, onSample func(Sample), onStatus func(directory.Status)) error {
	if t.sampler == nil {
		return errors.New("presence: sampler is required")
	}
	if cfg.SampleInterval <= 0 {
		return errors.New("presence: sample interval must be > 0")
	}
	if cfg.RadiusMeters <= 0 {
		return errors.New("presence: fence radius must be > 0")
	}
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = 10 * time.Second
	}

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.New("presence: tracker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.done = make(chan struct{})
	t.state = State{}
	t.mu.Unlock()

	go t.loop(runCtx, cfg, onSample, onStatus)
	return nil
}

// Stop cancels the heartbeat and waits for the loop to exit; no sample or
// notification fires after it returns. Safe to call when not running.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// State returns a copy of the current presence state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := State{}
	if t.state.LastSample != nil {
		s := *t.state.LastSample
		out.LastSample = &s
	}
	if t.state.InsideFence != nil {
		b := *t.state.InsideFence
		out.InsideFence = &b
	}
	return out
}

func (t *Tracker) loop(ctx context.Context, cfg Config, onSample func(Sample), onStatus func(directory.Status)) {
	defer close(t.done)

	t.tick(ctx, cfg, onSample, onStatus)

	ticker := time.NewTicker(cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx, cfg, onSample, onStatus)
		}
	}
}

func (t *Tracker) tick(ctx context.Context, cfg Config, onSample func(Sample), onStatus func(directory.Status)) {
	sampleCtx, cancel := context.WithTimeout(ctx, cfg.SampleTimeout)
	s, err := t.sampler.Sample(sampleCtx)
	cancel()

	if ctx.Err() != nil {
		// Stopped mid-sample; deliver nothing.
		return
	}
	if err != nil {
		t.log.Warn("presence sample failed", "err", err)
		return
	}

	inside := cfg.fence().Contains(s.Lat, s.Lng)

	t.mu.Lock()
	crossed := t.state.InsideFence == nil || *t.state.InsideFence != inside
	sample := s
	t.state.LastSample = &sample
	in := inside
	t.state.InsideFence = &in
	t.mu.Unlock()

	if onSample != nil {
		onSample(s)
	}
	if crossed && onStatus != nil {
		if inside {
			onStatus(directory.StatusAvailable)
		} else {
			onStatus(directory.StatusOffline)
		}
	}
}
