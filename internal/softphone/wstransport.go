package softphone

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"siteos/internal/credential"
)

// frame is the wire message exchanged with the voice gateway. One struct
// for both directions; unset fields are omitted.
type frame struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id,omitempty"`
	To       string `json:"to,omitempty"`
	From     string `json:"from,omitempty"`
	CallerID string `json:"caller_id,omitempty"`
	SiteID   string `json:"site_id,omitempty"`
	Digits   string `json:"digits,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Token    string `json:"token,omitempty"`
	Code     int    `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

const (
	frameRegister    = "register"
	frameRegistered  = "registered"
	frameInvite      = "invite"
	frameRing        = "ring"
	frameAnswer      = "answer"
	frameAnswered    = "answered"
	frameReject      = "reject"
	frameBye         = "bye"
	frameDigits      = "digits"
	frameAudioDevice = "audio_device"
	frameError       = "error"
)

const wsDialTimeout = 10 * time.Second

// WSTransport speaks the gateway's websocket framing. It satisfies
// Transport; the controller never sees websocket details.
type WSTransport struct {
	gatewayURL string
	cred       credential.Credential
	log        *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	calls  map[string]*wsCall
	closed bool
}

// NewWSTransport returns a transport that registers identity over the
// gateway websocket at gatewayURL using cred as the bearer credential.
func NewWSTransport(gatewayURL string, cred credential.Credential, log *slog.Logger) (*WSTransport, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("softphone: gateway url is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &WSTransport{
		gatewayURL: gatewayURL,
		cred:       cred,
		log:        log,
		events:     make(chan Event, 16),
		calls:      make(map[string]*wsCall),
	}, nil
}

// Register dials the gateway and announces the credential identity. The
// gateway confirms with a registered frame, which surfaces as
// EventRegistered from the read loop.
func (t *WSTransport) Register(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.cred.Value)

	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.gatewayURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("softphone: gateway dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("softphone: gateway dial: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return fmt.Errorf("softphone: transport destroyed")
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)

	return t.send(frame{Type: frameRegister, From: t.cred.Identity, Token: t.cred.Value})
}

// Dial sends an invite for p and returns the pending call leg. The gateway
// answers asynchronously with answered (EventAccepted) or bye
// (EventDisconnected).
func (t *WSTransport) Dial(ctx context.Context, p DialParams) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	call := &wsCall{t: t, id: uuid.NewString(), remote: p.To}

	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("softphone: not registered")
	}
	t.calls[call.id] = call
	t.mu.Unlock()

	err := t.send(frame{
		Type:     frameInvite,
		CallID:   call.id,
		To:       p.To,
		CallerID: p.CallerID,
		SiteID:   p.SiteID,
	})
	if err != nil {
		t.mu.Lock()
		delete(t.calls, call.id)
		t.mu.Unlock()
		return nil, err
	}
	return call, nil
}

func (t *WSTransport) DisconnectAll() error {
	t.mu.Lock()
	ids := make([]string, 0, len(t.calls))
	for id := range t.calls {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		if err := t.send(frame{Type: frameBye, CallID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (t *WSTransport) SetAudioInput(deviceID string) error {
	return t.send(frame{Type: frameAudioDevice, Kind: "input", DeviceID: deviceID})
}

func (t *WSTransport) SetAudioOutput(deviceID string) error {
	return t.send(frame{Type: frameAudioDevice, Kind: "output", DeviceID: deviceID})
}

func (t *WSTransport) Events() <-chan Event {
	return t.events
}

// Destroy closes the gateway connection. The read loop observes the close
// and shuts the event channel.
func (t *WSTransport) Destroy() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		// Never registered; nothing will close the channel for us.
		close(t.events)
		return nil
	}
	return conn.Close()
}

func (t *WSTransport) send(f frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("softphone: gateway connection is closed")
	}
	return t.conn.WriteJSON(f)
}

// readLoop owns all reads on conn and translates gateway frames into
// events until the connection drops.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer close(t.events)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.log.Warn("gateway connection lost", "err", err)
				t.events <- Event{Kind: EventError, Message: "gateway connection lost"}
			}
			return
		}
		t.handleFrame(f)
	}
}

func (t *WSTransport) handleFrame(f frame) {
	switch f.Type {
	case frameRegistered:
		t.events <- Event{Kind: EventRegistered}

	case frameRing:
		call := &wsCall{t: t, id: f.CallID, remote: f.From}
		t.mu.Lock()
		t.calls[call.id] = call
		t.mu.Unlock()
		t.events <- Event{Kind: EventIncoming, From: f.From, Conn: call}

	case frameAnswered:
		t.events <- Event{Kind: EventAccepted}

	case frameBye:
		t.mu.Lock()
		delete(t.calls, f.CallID)
		t.mu.Unlock()
		t.events <- Event{Kind: EventDisconnected}

	case frameError:
		t.events <- Event{Kind: EventError, Code: f.Code, Message: f.Message}

	default:
		t.log.Debug("unknown gateway frame", "type", f.Type)
	}
}

// wsCall is one call leg multiplexed over the gateway connection.
type wsCall struct {
	t      *WSTransport
	id     string
	remote string
}

func (c *wsCall) Accept() error {
	return c.t.send(frame{Type: frameAnswer, CallID: c.id})
}

func (c *wsCall) Reject() error {
	c.t.mu.Lock()
	delete(c.t.calls, c.id)
	c.t.mu.Unlock()
	return c.t.send(frame{Type: frameReject, CallID: c.id})
}

func (c *wsCall) Disconnect() error {
	c.t.mu.Lock()
	delete(c.t.calls, c.id)
	c.t.mu.Unlock()
	return c.t.send(frame{Type: frameBye, CallID: c.id})
}

func (c *wsCall) SendDigits(digits string) error {
	return c.t.send(frame{Type: frameDigits, CallID: c.id, Digits: digits})
}

func (c *wsCall) RemoteNumber() string { return c.remote }
