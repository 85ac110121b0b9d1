package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"siteos/internal/directory"
)

const (
	siteLat = -27.975644322187307
	siteLng = 153.40359770326276
)

// scriptedSampler returns a fixed sequence of samples/errors, then blocks.
type scriptedSampler struct {
	mu    sync.Mutex
	steps []func() (Sample, error)
}

func (s *scriptedSampler) Sample(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	if len(s.steps) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return Sample{}, ErrNoSample
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()
	return step()
}

func ok(lat, lng float64) func() (Sample, error) {
	return func() (Sample, error) { return Sample{Lat: lat, Lng: lng}, nil }
}

func fail() func() (Sample, error) {
	return func() (Sample, error) { return Sample{}, errors.New("provider error") }
}

type recorder struct {
	mu       sync.Mutex
	samples  []Sample
	statuses []directory.Status
}

func (r *recorder) onSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) onStatus(st directory.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recorder) snapshot() ([]Sample, []directory.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...), append([]directory.Status(nil), r.statuses...)
}

func testConfig() Config {
	return Config{
		CenterLat:      siteLat,
		CenterLng:      siteLng,
		RadiusMeters:   400,
		SampleInterval: 5 * time.Millisecond,
		SampleTimeout:  50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestTracker_EnterAndLeaveFence(t *testing.T) {
	sampler := &scriptedSampler{steps: []func() (Sample, error){
		ok(-27.9758, 153.4038),  // ~26m: inside
		ok(-27.9758, 153.4038),  // inside again: no notification
		ok(-28.0300, 153.4400),  // far away: outside
	}}
	rec := &recorder{}
	tr := NewTracker(sampler, nil)
	if err := tr.Start(context.Background(), testConfig(), rec.onSample, rec.onStatus); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	waitFor(t, func() bool {
		_, st := rec.snapshot()
		return len(st) == 2
	})

	_, statuses := rec.snapshot()
	if statuses[0] != directory.StatusAvailable || statuses[1] != directory.StatusOffline {
		t.Fatalf("expected [available offline], got %v", statuses)
	}

	state := tr.State()
	if state.InsideFence == nil || *state.InsideFence {
		t.Fatalf("expected final state outside fence, got %+v", state)
	}
}

func TestTracker_UnchangedMembershipDoesNotNotify(t *testing.T) {
	sampler := &scriptedSampler{steps: []func() (Sample, error){
		ok(-27.9758, 153.4038),
		ok(-27.9754, 153.4034),
		ok(-27.9756, 153.4036),
	}}
	rec := &recorder{}
	tr := NewTracker(sampler, nil)
	if err := tr.Start(context.Background(), testConfig(), rec.onSample, rec.onStatus); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	waitFor(t, func() bool {
		s, _ := rec.snapshot()
		return len(s) == 3
	})

	_, statuses := rec.snapshot()
	if len(statuses) != 1 || statuses[0] != directory.StatusAvailable {
		t.Fatalf("expected a single available notification, got %v", statuses)
	}
}

func TestTracker_FailedSampleSkipsTickOnly(t *testing.T) {
	sampler := &scriptedSampler{steps: []func() (Sample, error){
		ok(-27.9758, 153.4038), // inside
		fail(),                 // skipped: no toggle, loop continues
		ok(-28.0300, 153.4400), // outside
	}}
	rec := &recorder{}
	tr := NewTracker(sampler, nil)
	if err := tr.Start(context.Background(), testConfig(), rec.onSample, rec.onStatus); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	waitFor(t, func() bool {
		_, st := rec.snapshot()
		return len(st) == 2
	})

	samples, statuses := rec.snapshot()
	if len(samples) != 2 {
		t.Fatalf("expected 2 successful samples, got %d", len(samples))
	}
	if statuses[0] != directory.StatusAvailable || statuses[1] != directory.StatusOffline {
		t.Fatalf("expected [available offline], got %v", statuses)
	}
}

func TestTracker_UndeterminedUntilFirstSuccess(t *testing.T) {
	sampler := &scriptedSampler{steps: []func() (Sample, error){fail()}}
	tr := NewTracker(sampler, nil)
	if err := tr.Start(context.Background(), testConfig(), nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	time.Sleep(20 * time.Millisecond)
	if st := tr.State(); st.InsideFence != nil {
		t.Fatalf("expected undetermined membership, got %v", *st.InsideFence)
	}
}

func TestTracker_StopIsDeterministic(t *testing.T) {
	sampler := &scriptedSampler{steps: []func() (Sample, error){
		ok(-27.9758, 153.4038),
	}}
	rec := &recorder{}
	tr := NewTracker(sampler, nil)
	if err := tr.Start(context.Background(), testConfig(), rec.onSample, rec.onStatus); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool {
		s, _ := rec.snapshot()
		return len(s) == 1
	})

	tr.Stop()
	before, _ := rec.snapshot()
	time.Sleep(30 * time.Millisecond)
	after, _ := rec.snapshot()
	if len(after) != len(before) {
		t.Fatalf("sample delivered after Stop returned")
	}

	// Restart is allowed after Stop.
	if err := tr.Start(context.Background(), testConfig(), nil, nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
	tr.Stop()
}

func TestTracker_DoubleStartRejected(t *testing.T) {
	tr := NewTracker(NewPushSampler(), nil)
	if err := tr.Start(context.Background(), testConfig(), nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()
	if err := tr.Start(context.Background(), testConfig(), nil, nil); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestPushSampler_WaitsForFreshReport(t *testing.T) {
	p := NewPushSampler()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Sample(ctx); !errors.Is(err, ErrNoSample) {
		t.Fatalf("expected ErrNoSample, got %v", err)
	}

	p.Report(Sample{Lat: 1, Lng: 2})
	p.Report(Sample{Lat: 3, Lng: 4}) // newer report replaces the unconsumed one

	s, err := p.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if s.Lat != 3 || s.Lng != 4 {
		t.Fatalf("expected latest report, got %+v", s)
	}
}
