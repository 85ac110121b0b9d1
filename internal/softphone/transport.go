// Package softphone owns the lifecycle of one softphone connection:
// registration, outbound dial, inbound accept/reject, in-call controls and
// teardown.
package softphone

import (
	"context"

	"siteos/internal/credential"
)

// EventKind identifies a transport boundary event.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventError        EventKind = "error"
	EventIncoming     EventKind = "incoming"
	EventAccepted     EventKind = "accepted"
	EventDisconnected EventKind = "disconnected"
)

// CodeExpiredCredential is the provider error code signaling that the
// registration credential has expired. It triggers the refresh path
// instead of a user-visible failure.
const CodeExpiredCredential = 31205

// Event is one transport occurrence, consumed by the controller's
// synchronous transition function. I/O stays at the transport boundary.
type Event struct {
	Kind    EventKind
	Code    int
	Message string

	// From identifies the remote party on EventIncoming, when present.
	From string
	// Conn is the inbound connection on EventIncoming.
	Conn Conn
}

// Conn is one call leg at the transport.
type Conn interface {
	Accept() error
	Reject() error
	Disconnect() error
	SendDigits(digits string) error
	RemoteNumber() string
}

// DialParams carries the outbound call parameters handed to the provider.
type DialParams struct {
	To       string
	CallerID string
	SiteID   string
}

// Transport is the provider-agnostic softphone connection.
//
// Rules:
//   - No provider SDK calls outside transport adapters.
//   - Events() delivers boundary events until Destroy closes the channel.
//   - Registration completion is reported via EventRegistered, not the
//     Register return value.
type Transport interface {
	Register(ctx context.Context) error
	Dial(ctx context.Context, p DialParams) (Conn, error)
	DisconnectAll() error
	SetAudioInput(deviceID string) error
	SetAudioOutput(deviceID string) error
	Events() <-chan Event
	Destroy() error
}

// TransportFactory builds a transport bound to one credential. The
// controller invokes it on every credential (re)assignment.
type TransportFactory func(cred credential.Credential) (Transport, error)
