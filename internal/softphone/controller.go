package softphone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"siteos/internal/credential"
	"siteos/internal/phone"
)

// State is the call session state.
type State string

const (
	StateIdle      State = "idle"
	StateDialing   State = "dialing"
	StateIncoming  State = "incoming"
	StateConnected State = "connected"
)

var (
	ErrNotIdle           = errors.New("softphone: a call is already in flight")
	ErrTransportNotReady = errors.New("softphone: transport is not registered")
	ErrNoIncomingCall    = errors.New("softphone: no incoming call")
)

// Controller drives the single call session state machine.
//
// Invariants:
//   - Exactly one session: Dial while not idle is rejected and leaves the
//     state unchanged.
//   - Transport errors are surfaced through OnError, never swallowed; an
//     error during dial/connect resets the session to idle.
//   - Error code 31205 triggers the credential refresh path; the refreshed
//     credential re-registers this same controller.
//   - Teardown disconnects any call, cancels the duration timer and
//     destroys the transport, in that order.
//
// All transport events funnel through handleEvent, which mutates session
// state under the lock and performs I/O only after releasing it.
type Controller struct {
	factory     TransportFactory
	creds       *credential.Manager
	countryCode string
	log         *slog.Logger
	tick        time.Duration

	mu          sync.Mutex
	transport   Transport
	ready       bool
	state       State
	active      Conn
	incoming    Conn
	remoteFrom  string
	duration    int
	timerStop   chan struct{}
	pumpDone    chan struct{}
	pendingIn   string
	pendingOut  string
	pendingCred *credential.Credential

	onState    func(state State, durationSeconds int)
	onDuration func(seconds int)
	onError    func(err error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithTickInterval overrides the one-second duration tick. Intended for tests.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) { c.tick = d }
}

func NewController(factory TransportFactory, creds *credential.Manager, countryCode string, log *slog.Logger, opts ...Option) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		factory:     factory,
		creds:       creds,
		countryCode: countryCode,
		log:         log,
		tick:        time.Second,
		state:       StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	if creds != nil {
		// Refreshed (or manually replaced) credentials swap the active
		// transport without a new controller.
		creds.OnRefresh(c.applyCredential)
	}
	return c
}

// applyCredential swaps in a replacement credential. A call in progress is
// never disturbed: the swap is held until the session returns to idle.
func (c *Controller) applyCredential(cred credential.Credential) {
	c.mu.Lock()
	if c.state != StateIdle {
		cc := cred
		c.pendingCred = &cc
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.SetCredential(context.Background(), cred); err != nil {
		c.surface(fmt.Errorf("softphone: re-registration after refresh failed: %w", err))
	}
}

// OnState registers the state transition callback. It receives the new
// state and the call duration at the moment of transition.
func (c *Controller) OnState(fn func(State, int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// OnDuration registers the per-second duration callback.
func (c *Controller) OnDuration(fn func(int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDuration = fn
}

// OnError registers the error callback. Transport errors are never
// silently swallowed; without a callback they are logged.
func (c *Controller) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the transport is registered and can dial.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && c.transport != nil
}

// Duration returns the current call duration in seconds.
func (c *Controller) Duration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// IncomingFrom returns the remote identifier of a ringing inbound call.
func (c *Controller) IncomingFrom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIncoming {
		return ""
	}
	return c.remoteFrom
}

// SetCredential (re)initializes the transport with cred and registers it.
// Any previous transport is torn down first; queued audio-device
// preferences survive and apply on the next successful registration.
func (c *Controller) SetCredential(ctx context.Context, cred credential.Credential) error {
	c.teardownTransport()

	t, err := c.factory(cred)
	if err != nil {
		return fmt.Errorf("softphone: transport init: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.transport = t
	c.ready = false
	c.state = StateIdle
	c.pumpDone = done
	c.mu.Unlock()

	go c.pump(t, done)

	if err := t.Register(ctx); err != nil {
		return fmt.Errorf("softphone: register: %w", err)
	}
	return nil
}

// Teardown disconnects any active or incoming call, cancels the duration
// timer and destroys the transport. The controller is reusable via
// SetCredential afterwards.
func (c *Controller) Teardown() {
	c.EndCall()
	c.teardownTransport()
}

// Dial places an outbound call. It is rejected up front unless the session
// is idle and the transport is registered. The number is normalized to
// international form first; the normalized number is returned.
func (c *Controller) Dial(ctx context.Context, number, callerID, siteID string) (string, error) {
	normalized := phone.Normalize(number, c.countryCode)

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return "", ErrNotIdle
	}
	if c.transport == nil || !c.ready {
		c.mu.Unlock()
		return "", ErrTransportNotReady
	}
	t := c.transport
	c.state = StateDialing
	c.mu.Unlock()
	c.notifyState(StateDialing, 0)

	conn, err := t.Dial(ctx, DialParams{To: normalized, CallerID: callerID, SiteID: siteID})
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.notifyState(StateIdle, 0)
		return "", fmt.Errorf("softphone: dial: %w", err)
	}

	c.mu.Lock()
	c.active = conn
	c.mu.Unlock()
	return normalized, nil
}

// Accept answers a ringing inbound call.
func (c *Controller) Accept() error {
	c.mu.Lock()
	if c.state != StateIncoming || c.incoming == nil {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	conn := c.incoming
	c.mu.Unlock()

	if err := conn.Accept(); err != nil {
		return fmt.Errorf("softphone: accept: %w", err)
	}

	c.mu.Lock()
	c.active = conn
	c.incoming = nil
	c.state = StateConnected
	c.duration = 0
	c.startTimerLocked()
	c.mu.Unlock()
	c.notifyState(StateConnected, 0)
	return nil
}

// Reject declines a ringing inbound call.
func (c *Controller) Reject() error {
	c.mu.Lock()
	if c.state != StateIncoming || c.incoming == nil {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	conn := c.incoming
	c.incoming = nil
	c.remoteFrom = ""
	c.state = StateIdle
	c.mu.Unlock()
	c.notifyState(StateIdle, 0)

	if err := conn.Reject(); err != nil {
		return fmt.Errorf("softphone: reject: %w", err)
	}
	return nil
}

// SendDigits transmits DTMF digits. Valid only while connected; a no-op
// otherwise.
func (c *Controller) SendDigits(digits string) {
	c.mu.Lock()
	conn := c.active
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	if err := conn.SendDigits(digits); err != nil {
		c.surface(fmt.Errorf("softphone: send digits: %w", err))
	}
}

// SetAudioInput selects the microphone. Applied immediately when the
// transport is registered, otherwise queued for the next registration.
func (c *Controller) SetAudioInput(deviceID string) {
	c.mu.Lock()
	t := c.transport
	ready := c.ready
	if !ready || t == nil {
		c.pendingIn = deviceID
	}
	c.mu.Unlock()
	if ready && t != nil {
		if err := t.SetAudioInput(deviceID); err != nil {
			c.surface(fmt.Errorf("softphone: set audio input: %w", err))
		}
	}
}

// SetAudioOutput selects the speaker, with the same queueing behavior as
// SetAudioInput.
func (c *Controller) SetAudioOutput(deviceID string) {
	c.mu.Lock()
	t := c.transport
	ready := c.ready
	if !ready || t == nil {
		c.pendingOut = deviceID
	}
	c.mu.Unlock()
	if ready && t != nil {
		if err := t.SetAudioOutput(deviceID); err != nil {
			c.surface(fmt.Errorf("softphone: set audio output: %w", err))
		}
	}
}

// EndCall disconnects whichever of active/incoming exists, otherwise asks
// the transport to disconnect everything. The session always settles idle.
func (c *Controller) EndCall() {
	c.mu.Lock()
	active, incoming, t := c.active, c.incoming, c.transport
	finalDuration := c.duration
	c.stopTimerLocked()
	c.active = nil
	c.incoming = nil
	c.remoteFrom = ""
	c.duration = 0
	changed := c.state != StateIdle
	c.state = StateIdle
	heldCred := c.pendingCred
	c.pendingCred = nil
	c.mu.Unlock()

	switch {
	case active != nil:
		if err := active.Disconnect(); err != nil {
			c.surface(fmt.Errorf("softphone: disconnect: %w", err))
		}
	case incoming != nil:
		if err := incoming.Reject(); err != nil {
			c.surface(fmt.Errorf("softphone: reject: %w", err))
		}
	case t != nil:
		if err := t.DisconnectAll(); err != nil {
			c.surface(fmt.Errorf("softphone: disconnect all: %w", err))
		}
	}
	if changed {
		c.notifyState(StateIdle, finalDuration)
	}
	if heldCred != nil {
		go c.applyCredential(*heldCred)
	}
}

func (c *Controller) pump(t Transport, done chan struct{}) {
	defer close(done)
	for ev := range t.Events() {
		c.handleEvent(ev)
	}
}

// handleEvent is the state machine's transition function. It computes the
// next state under the lock and performs callbacks and transport I/O after
// releasing it.
func (c *Controller) handleEvent(ev Event) {
	var (
		surfaceErr  error
		rejectConn  Conn
		applyIn     string
		applyOut    string
		transport   Transport
		notify      bool
		newState    State
		notifyDur   int
		needRefresh bool
		heldCred    *credential.Credential
	)

	c.mu.Lock()
	switch ev.Kind {
	case EventRegistered:
		c.ready = true
		applyIn, applyOut = c.pendingIn, c.pendingOut
		c.pendingIn, c.pendingOut = "", ""
		transport = c.transport

	case EventError:
		if ev.Code == CodeExpiredCredential {
			c.ready = false
			needRefresh = true
			break
		}
		surfaceErr = fmt.Errorf("softphone: transport error %d: %s", ev.Code, ev.Message)
		if c.state == StateDialing || c.state == StateConnected {
			notifyDur = c.duration
			c.stopTimerLocked()
			c.active = nil
			c.duration = 0
			c.state = StateIdle
			notify, newState = true, StateIdle
			heldCred, c.pendingCred = c.pendingCred, nil
		}

	case EventIncoming:
		if c.state != StateIdle {
			// Busy: decline without disturbing the session in progress.
			rejectConn = ev.Conn
			break
		}
		c.incoming = ev.Conn
		c.remoteFrom = ev.From
		c.state = StateIncoming
		notify, newState = true, StateIncoming

	case EventAccepted:
		if c.state != StateDialing {
			break
		}
		c.state = StateConnected
		c.duration = 0
		c.startTimerLocked()
		notify, newState = true, StateConnected

	case EventDisconnected:
		if c.state == StateIdle {
			break
		}
		notifyDur = c.duration
		c.stopTimerLocked()
		c.active = nil
		c.incoming = nil
		c.remoteFrom = ""
		c.duration = 0
		c.state = StateIdle
		notify, newState = true, StateIdle
		heldCred, c.pendingCred = c.pendingCred, nil
	}
	c.mu.Unlock()

	if transport != nil {
		if applyIn != "" {
			if err := transport.SetAudioInput(applyIn); err != nil {
				c.surface(fmt.Errorf("softphone: apply queued audio input: %w", err))
			}
		}
		if applyOut != "" {
			if err := transport.SetAudioOutput(applyOut); err != nil {
				c.surface(fmt.Errorf("softphone: apply queued audio output: %w", err))
			}
		}
	}
	if rejectConn != nil {
		_ = rejectConn.Reject()
	}
	if surfaceErr != nil {
		c.surface(surfaceErr)
	}
	if notify {
		c.notifyState(newState, notifyDur)
	}
	if needRefresh {
		go c.refreshCredential()
	}
	if heldCred != nil {
		go c.applyCredential(*heldCred)
	}
}

func (c *Controller) refreshCredential() {
	if c.creds == nil {
		c.surface(errors.New("softphone: credential expired and no manager configured"))
		return
	}
	// Refresh delivers the new credential through the manager's OnRefresh
	// callback, which re-runs SetCredential on this controller.
	if _, err := c.creds.Refresh(context.Background()); err != nil {
		c.surface(fmt.Errorf("softphone: credential refresh: %w", err))
	}
}

func (c *Controller) teardownTransport() {
	c.mu.Lock()
	t := c.transport
	done := c.pumpDone
	c.stopTimerLocked()
	c.transport = nil
	c.ready = false
	c.active = nil
	c.incoming = nil
	c.remoteFrom = ""
	c.duration = 0
	c.state = StateIdle
	c.pumpDone = nil
	c.mu.Unlock()

	if t != nil {
		if err := t.Destroy(); err != nil {
			c.log.Warn("transport destroy failed", "err", err)
		}
	}
	if done != nil {
		<-done
	}
}

// startTimerLocked begins the once-per-second duration tick. Caller holds c.mu.
func (c *Controller) startTimerLocked() {
	stop := make(chan struct{})
	c.timerStop = stop
	go func() {
		ticker := time.NewTicker(c.tick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.state != StateConnected {
					c.mu.Unlock()
					return
				}
				c.duration++
				d := c.duration
				cb := c.onDuration
				c.mu.Unlock()
				if cb != nil {
					cb(d)
				}
			}
		}
	}()
}

// stopTimerLocked cancels the duration tick. Caller holds c.mu.
func (c *Controller) stopTimerLocked() {
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

func (c *Controller) notifyState(s State, durationSeconds int) {
	c.mu.Lock()
	cb := c.onState
	c.mu.Unlock()
	if cb != nil {
		cb(s, durationSeconds)
	}
}

func (c *Controller) surface(err error) {
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		cb(err)
		return
	}
	c.log.Error("softphone error", "err", err)
}
