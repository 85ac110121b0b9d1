// Package calls ties the session controller, routing engine, directory,
// history log and event hub together into the call operations the HTTP
// API exposes.
package calls

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"siteos/internal/directory"
	"siteos/internal/geo"
	"siteos/internal/history"
	"siteos/internal/phone"
	"siteos/internal/routing"
	"siteos/internal/softphone"
	"siteos/internal/ws"
)

// Broadcaster pushes live events to connected clients.
type Broadcaster interface {
	Broadcast(eventType ws.EventType, data interface{})
}

// PlacedCall is the result of a dial request: the history record that was
// logged and the routing decision that produced the dialed number.
type PlacedCall struct {
	Record   history.Record   `json:"record"`
	Decision routing.Decision `json:"decision"`
}

// StatePayload is the call_state event body.
type StatePayload struct {
	State           string `json:"state"`
	DurationSeconds int    `json:"duration_seconds"`
	IncomingFrom    string `json:"incoming_from,omitempty"`
}

// Service owns call placement and the bookkeeping around it.
//
// Invariants:
//   - Routing is evaluated on the normalized number before every outbound
//     dial; the dial always targets the decision's final number.
//   - Every placed or answered call gets exactly one history record; its
//     duration is backfilled when the session returns to idle.
type Service struct {
	controller  *softphone.Controller
	rules       *routing.Store
	dir         *directory.Repo
	hist        *history.Log
	hub         Broadcaster
	fence       geo.Fence
	countryCode string
	callerID    string
	siteID      string
	log         *slog.Logger

	mu           sync.Mutex
	activeRecord string
	incomingFrom string
}

type Deps struct {
	Controller  *softphone.Controller
	Rules       *routing.Store
	Directory   *directory.Repo
	History     *history.Log
	Hub         Broadcaster
	Fence       geo.Fence
	CountryCode string
	CallerID    string
	SiteID      string
	Log         *slog.Logger
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		controller:  d.Controller,
		rules:       d.Rules,
		dir:         d.Directory,
		hist:        d.History,
		hub:         d.Hub,
		fence:       d.Fence,
		countryCode: d.CountryCode,
		callerID:    d.CallerID,
		siteID:      d.SiteID,
		log:         log,
	}
	s.controller.OnState(s.onState)
	s.controller.OnDuration(s.onDuration)
	return s
}

// PlaceCall routes and dials number. The returned record carries the
// dialed number; when a rule redirected the call, RedirectedFrom holds the
// number originally requested.
func (s *Service) PlaceCall(ctx context.Context, number string) (PlacedCall, error) {
	normalized := phone.Normalize(number, s.countryCode)
	decision := routing.Evaluate(normalized, s.dir, s.fence, s.rules.Snapshot())

	dialed, err := s.controller.Dial(ctx, decision.FinalNumber, s.callerID, s.siteID)
	if err != nil {
		return PlacedCall{}, fmt.Errorf("calls: place call: %w", err)
	}

	rec := history.Record{
		Number:      dialed,
		DisplayName: s.displayName(normalized),
		Direction:   history.DirectionOutbound,
	}
	if decision.Redirected {
		rec.RedirectedFrom = normalized
	}
	rec = s.hist.Append(rec)

	s.mu.Lock()
	s.activeRecord = rec.ID
	s.mu.Unlock()

	if decision.Redirected && decision.MatchedRule != nil {
		s.log.Info("call redirected",
			"requested", normalized,
			"dialed", dialed,
			"rule", decision.MatchedRule.Name,
		)
	}
	s.hub.Broadcast(ws.EventCallHistory, s.hist.Records())
	return PlacedCall{Record: rec, Decision: decision}, nil
}

// EndCall hangs up the session. History backfill happens on the resulting
// idle transition.
func (s *Service) EndCall() {
	s.controller.EndCall()
}

// Accept answers a ringing inbound call.
func (s *Service) Accept() error {
	return s.controller.Accept()
}

// Reject declines a ringing inbound call.
func (s *Service) Reject() error {
	return s.controller.Reject()
}

// SendDigits forwards DTMF digits to the active call.
func (s *Service) SendDigits(digits string) {
	s.controller.SendDigits(digits)
}

// History returns the call log, newest first.
func (s *Service) History() []history.Record {
	return s.hist.Records()
}

// ClearHistory empties the call log and notifies clients.
func (s *Service) ClearHistory() {
	s.hist.Clear()
	s.hub.Broadcast(ws.EventCallHistory, s.hist.Records())
}

func (s *Service) displayName(number string) string {
	if e, ok := s.dir.ResolveNumber(number); ok {
		return e.DisplayName
	}
	return "Unknown"
}

func (s *Service) onState(state softphone.State, durationSeconds int) {
	payload := StatePayload{State: string(state), DurationSeconds: durationSeconds}

	switch state {
	case softphone.StateIncoming:
		from := s.controller.IncomingFrom()
		s.mu.Lock()
		s.incomingFrom = from
		s.mu.Unlock()
		payload.IncomingFrom = from

	case softphone.StateConnected:
		s.mu.Lock()
		answered := s.activeRecord == "" && s.incomingFrom != ""
		from := s.incomingFrom
		s.mu.Unlock()
		if answered {
			rec := s.hist.Append(history.Record{
				Number:      from,
				DisplayName: s.displayName(from),
				Direction:   history.DirectionInbound,
			})
			s.mu.Lock()
			s.activeRecord = rec.ID
			s.mu.Unlock()
			s.hub.Broadcast(ws.EventCallHistory, s.hist.Records())
		}

	case softphone.StateIdle:
		s.mu.Lock()
		recID := s.activeRecord
		s.activeRecord = ""
		s.incomingFrom = ""
		s.mu.Unlock()
		if recID != "" {
			s.hist.MarkEnded(recID, durationSeconds)
			s.hub.Broadcast(ws.EventCallHistory, s.hist.Records())
		}
	}

	s.hub.Broadcast(ws.EventCallState, payload)
}

func (s *Service) onDuration(seconds int) {
	s.hub.Broadcast(ws.EventCallState, StatePayload{
		State:           string(softphone.StateConnected),
		DurationSeconds: seconds,
	})
}
