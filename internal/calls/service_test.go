package calls

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"siteos/internal/credential"
	"siteos/internal/directory"
	"siteos/internal/geo"
	"siteos/internal/history"
	"siteos/internal/routing"
	"siteos/internal/softphone"
	"siteos/internal/ws"
)

var testFence = geo.Fence{Lat: -27.975644322187307, Lng: 153.40359770326276, RadiusMeters: 400}

var insideLocation = &directory.Location{Lat: -27.9758, Lng: 153.4038}

func defaultRules() []routing.Rule {
	return []routing.Rule{
		{
			Name:     "Busy staff to reception",
			IsActive: true,
			Criteria: routing.Criteria{
				TargetRole:    directory.RoleStaff,
				TargetStatus:  directory.StatusBusy,
				LocationState: routing.LocationAny,
			},
			Action: routing.Action{RedirectNumber: "100", RedirectLabel: "Reception"},
		},
		{
			Name:     "Off-site contractors to site manager",
			IsActive: true,
			Criteria: routing.Criteria{
				TargetRole:    directory.RoleContractor,
				LocationState: routing.LocationOffSite,
			},
			Action: routing.Action{RedirectNumber: "+61416000001", RedirectLabel: "Site manager"},
		},
	}
}

type fakeConn struct {
	mu           sync.Mutex
	remote       string
	disconnected bool
}

func (c *fakeConn) Accept() error           { return nil }
func (c *fakeConn) Reject() error           { return nil }
func (c *fakeConn) SendDigits(string) error { return nil }
func (c *fakeConn) RemoteNumber() string    { return c.remote }

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

type fakeTransport struct {
	events chan softphone.Event

	mu        sync.Mutex
	dials     []softphone.DialParams
	destroyed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan softphone.Event, 16)}
}

func (s *fakeTransport) Register(ctx context.Context) error {
	s.events <- softphone.Event{Kind: softphone.EventRegistered}
	return nil
}

func (s *fakeTransport) Dial(ctx context.Context, p softphone.DialParams) (softphone.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials = append(s.dials, p)
	return &fakeConn{remote: p.To}, nil
}

func (s *fakeTransport) DisconnectAll() error           { return nil }
func (s *fakeTransport) SetAudioInput(string) error     { return nil }
func (s *fakeTransport) SetAudioOutput(string) error    { return nil }
func (s *fakeTransport) Events() <-chan softphone.Event { return s.events }

func (s *fakeTransport) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.destroyed {
		s.destroyed = true
		close(s.events)
	}
	return nil
}

func (s *fakeTransport) lastDial(t *testing.T) softphone.DialParams {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dials) == 0 {
		t.Fatalf("no dial reached the transport")
	}
	return s.dials[len(s.dials)-1]
}

type recordingHub struct {
	mu     sync.Mutex
	events []ws.EventType
}

func (h *recordingHub) Broadcast(eventType ws.EventType, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *recordingHub) saw(eventType ws.EventType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	svc       *Service
	ctrl      *softphone.Controller
	transport *fakeTransport
	hub       *recordingHub
	hist      *history.Log
}

func newFixture(t *testing.T, entries []directory.Entry) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := newFakeTransport()
	factory := func(credential.Credential) (softphone.Transport, error) { return st, nil }
	ctrl := softphone.NewController(factory, nil, "61", log, softphone.WithTickInterval(5*time.Millisecond))
	if err := ctrl.SetCredential(context.Background(), credential.Credential{Value: "tok-0123456789abcdefghij", Identity: "tester"}); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	waitFor(t, "registration", ctrl.Ready)
	t.Cleanup(ctrl.Teardown)

	hub := &recordingHub{}
	hist := history.NewLog()
	svc := NewService(Deps{
		Controller:  ctrl,
		Rules:       routing.NewStore(defaultRules()),
		Directory:   directory.NewRepo(entries),
		History:     hist,
		Hub:         hub,
		Fence:       testFence,
		CountryCode: "61",
		CallerID:    "+61755500100",
		SiteID:      "site-1",
		Log:         log,
	})
	return &fixture{svc: svc, ctrl: ctrl, transport: st, hub: hub, hist: hist}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlaceCallRedirectsBusyStaff(t *testing.T) {
	f := newFixture(t, []directory.Entry{{
		ID:          "u1",
		DisplayName: "Alice Nguyen",
		Role:        directory.RoleStaff,
		PhoneNumber: "+61416000000",
		Status:      directory.StatusBusy,
		Location:    insideLocation,
	}})

	placed, err := f.svc.PlaceCall(context.Background(), "0416 000 000")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	if !placed.Decision.Redirected {
		t.Fatalf("expected a redirect decision: %+v", placed.Decision)
	}
	if placed.Record.Number != "100" {
		t.Fatalf("expected dialed number 100, got %q", placed.Record.Number)
	}
	if placed.Record.RedirectedFrom != "+61416000000" {
		t.Fatalf("expected redirected_from +61416000000, got %q", placed.Record.RedirectedFrom)
	}
	if placed.Record.DisplayName != "Alice Nguyen" {
		t.Fatalf("expected display name of the requested contact, got %q", placed.Record.DisplayName)
	}
	if got := f.transport.lastDial(t).To; got != "100" {
		t.Fatalf("transport must dial the redirect target, got %q", got)
	}
	if !f.hub.saw(ws.EventCallHistory) {
		t.Fatalf("expected a call_history broadcast")
	}
}

func TestPlaceCallPassthroughWhenAvailable(t *testing.T) {
	f := newFixture(t, []directory.Entry{{
		ID:          "u1",
		DisplayName: "Alice Nguyen",
		Role:        directory.RoleStaff,
		PhoneNumber: "+61416000000",
		Status:      directory.StatusAvailable,
		Location:    insideLocation,
	}})

	placed, err := f.svc.PlaceCall(context.Background(), "0416000000")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if placed.Decision.Redirected {
		t.Fatalf("expected passthrough, got redirect via %+v", placed.Decision.MatchedRule)
	}
	if placed.Record.Number != "+61416000000" {
		t.Fatalf("expected +61416000000, got %q", placed.Record.Number)
	}
	if placed.Record.RedirectedFrom != "" {
		t.Fatalf("passthrough must not record redirected_from, got %q", placed.Record.RedirectedFrom)
	}
}

func TestPlaceCallUnknownNumberPassesThrough(t *testing.T) {
	f := newFixture(t, nil)

	placed, err := f.svc.PlaceCall(context.Background(), "0499888777")
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if placed.Record.Number != "+61499888777" {
		t.Fatalf("expected +61499888777, got %q", placed.Record.Number)
	}
	if placed.Record.DisplayName != "Unknown" {
		t.Fatalf("expected Unknown display name, got %q", placed.Record.DisplayName)
	}
}

func TestDurationBackfilledWhenCallEnds(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.PlaceCall(context.Background(), "0499888777"); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	f.transport.events <- softphone.Event{Kind: softphone.EventAccepted}
	waitFor(t, "a duration tick", func() bool { return f.ctrl.Duration() >= 1 })

	f.transport.events <- softphone.Event{Kind: softphone.EventDisconnected}
	waitFor(t, "duration backfill", func() bool {
		recs := f.hist.Records()
		return len(recs) == 1 && recs[0].DurationSeconds >= 1
	})
}

func TestInboundCallLoggedOnAnswer(t *testing.T) {
	f := newFixture(t, []directory.Entry{{
		ID:          "u2",
		DisplayName: "Bob the Builder",
		Role:        directory.RoleContractor,
		PhoneNumber: "+61400123456",
		Status:      directory.StatusAvailable,
	}})

	f.transport.events <- softphone.Event{
		Kind: softphone.EventIncoming,
		From: "+61400123456",
		Conn: &fakeConn{remote: "+61400123456"},
	}
	waitFor(t, "incoming state", func() bool { return f.hub.saw(ws.EventCallState) })

	if err := f.svc.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitFor(t, "inbound history record", func() bool { return len(f.hist.Records()) == 1 })

	rec := f.hist.Records()[0]
	if rec.Direction != history.DirectionInbound {
		t.Fatalf("expected inbound record, got %q", rec.Direction)
	}
	if rec.Number != "+61400123456" || rec.DisplayName != "Bob the Builder" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.PlaceCall(context.Background(), "0499888777"); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	f.svc.EndCall()
	waitFor(t, "idle", func() bool { return len(f.svc.History()) == 1 })

	f.svc.ClearHistory()
	if got := len(f.svc.History()); got != 0 {
		t.Fatalf("expected empty history, got %d records", got)
	}
}
