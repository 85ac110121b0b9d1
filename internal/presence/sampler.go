package presence

import (
	"context"
	"errors"
)

// ErrNoSample indicates no fresh reading arrived within the sample window.
var ErrNoSample = errors.New("presence: no location report within sample window")

// PushSampler adapts device-pushed location reports to the Sampler
// interface. Clients report coordinates (e.g. via the HTTP API) and each
// Sample call waits for the next report, so a tick never observes a stale
// cached position.
type PushSampler struct {
	reports chan Sample
}

func NewPushSampler() *PushSampler {
	return &PushSampler{reports: make(chan Sample, 1)}
}

// Report delivers a fresh device reading. A newer report replaces an
// unconsumed older one.
func (p *PushSampler) Report(s Sample) {
	for {
		select {
		case p.reports <- s:
			return
		default:
			select {
			case <-p.reports:
			default:
			}
		}
	}
}

// Sample waits for the next reported reading or the context deadline.
func (p *PushSampler) Sample(ctx context.Context) (Sample, error) {
	select {
	case s := <-p.reports:
		return s, nil
	case <-ctx.Done():
		return Sample{}, ErrNoSample
	}
}
