// Package httpapi exposes the softphone over HTTP.
// Keep handlers thin: parse/validate input, call internal services, return JSON.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"siteos/internal/auth"
	"siteos/internal/calls"
	"siteos/internal/credential"
	"siteos/internal/directory"
	"siteos/internal/presence"
	"siteos/internal/routing"
	"siteos/internal/softphone"
	"siteos/internal/ws"

	"github.com/gin-gonic/gin"
)

// SiteInfo is the static site descriptor served to clients: the fence,
// the emergency number and the dial plan.
type SiteInfo struct {
	Name            string  `json:"name"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	RadiusMeters    float64 `json:"radius_meters"`
	EmergencyNumber string  `json:"emergency_number,omitempty"`
	CountryCode     string  `json:"country_code"`
}

// Handlers groups HTTP handlers for dependency injection.
type Handlers struct {
	Site      SiteInfo
	Auth      *auth.Manager
	Calls     *calls.Service
	Phone     *softphone.Controller
	Creds     *credential.Manager
	Rules     *routing.Store
	Directory *directory.Repo
	Tracker   *presence.Tracker
	Sampler   *presence.PushSampler
	Hub       *ws.Hub
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

// Login issues a JWT for a known directory identity. The role comes from
// the directory entry, never from the request body.
//
// NOTE: credential verification belongs to the identity provider in front
// of this service; this endpoint only maps a trusted identity to a token.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	entry, ok := h.Directory.Get(req.UserID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	token, err := h.Auth.Issue(time.Now(), entry.ID, string(entry.Role))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "role": entry.Role})
}

// --- Calls ---

type dialRequest struct {
	Number string `json:"number"`
}

func (h Handlers) Dial(c *gin.Context) {
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Number == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "number required"})
		return
	}

	placed, err := h.Calls.PlaceCall(c.Request.Context(), req.Number)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, softphone.ErrNotIdle) || errors.Is(err, softphone.ErrTransportNotReady) {
			status = http.StatusConflict
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, placed)
}

func (h Handlers) EndCall(c *gin.Context) {
	h.Calls.EndCall()
	c.JSON(http.StatusOK, gin.H{"state": string(h.Phone.State())})
}

func (h Handlers) AcceptCall(c *gin.Context) {
	if err := h.Calls.Accept(); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(h.Phone.State())})
}

func (h Handlers) RejectCall(c *gin.Context) {
	if err := h.Calls.Reject(); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(h.Phone.State())})
}

type digitsRequest struct {
	Digits string `json:"digits"`
}

func (h Handlers) SendDigits(c *gin.Context) {
	var req digitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Digits == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "digits required"})
		return
	}
	h.Calls.SendDigits(req.Digits)
	c.JSON(http.StatusOK, gin.H{"state": string(h.Phone.State())})
}

func (h Handlers) CallState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":            string(h.Phone.State()),
		"duration_seconds": h.Phone.Duration(),
		"incoming_from":    h.Phone.IncomingFrom(),
		"ready":            h.Phone.Ready(),
	})
}

// --- History ---

func (h Handlers) GetHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"records": h.Calls.History()})
}

func (h Handlers) ClearHistory(c *gin.Context) {
	h.Calls.ClearHistory()
	c.Status(http.StatusNoContent)
}

// --- Presence ---

type presenceSampleRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// ReportLocation accepts a device location sample for the tracked identity.
func (h Handlers) ReportLocation(c *gin.Context) {
	var req presenceSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Lat == nil || req.Lng == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lat and lng required"})
		return
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lng < -180 || *req.Lng > 180 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}
	h.Sampler.Report(presence.Sample{Lat: *req.Lat, Lng: *req.Lng})
	c.Status(http.StatusAccepted)
}

func (h Handlers) GetPresence(c *gin.Context) {
	state := h.Tracker.State()
	c.JSON(http.StatusOK, gin.H{
		"local":   state,
		"entries": h.Directory.List(),
	})
}

// --- Site ---

func (h Handlers) GetSite(c *gin.Context) {
	c.JSON(http.StatusOK, h.Site)
}

// --- Contacts ---

func (h Handlers) ListContacts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"contacts": h.Directory.List()})
}

// --- Voice credential (admin) ---

type manualTokenRequest struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

// SetVoiceToken installs an operator-supplied softphone credential,
// suspending automatic refresh until it too is reported expired.
func (h Handlers) SetVoiceToken(c *gin.Context) {
	var req manualTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Token == "" || req.Identity == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "token and identity required"})
		return
	}
	h.Creds.SetManual(credential.Credential{Value: req.Token, Identity: req.Identity})
	c.Status(http.StatusAccepted)
}

// --- Routing rules (admin) ---

func (h Handlers) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.Rules.Snapshot()})
}

func (h Handlers) UpsertRule(c *gin.Context) {
	var rule routing.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if rule.Action.RedirectNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "action.redirect_number required"})
		return
	}
	stored := h.Rules.Upsert(rule)
	h.Hub.Broadcast(ws.EventRulesUpdate, h.Rules.Snapshot())
	c.JSON(http.StatusOK, stored)
}

func (h Handlers) DeleteRule(c *gin.Context) {
	if !h.Rules.Delete(c.Param("rule_id")) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	h.Hub.Broadcast(ws.EventRulesUpdate, h.Rules.Snapshot())
	c.Status(http.StatusNoContent)
}

func (h Handlers) ToggleRule(c *gin.Context) {
	rule, ok := h.Rules.Toggle(c.Param("rule_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	h.Hub.Broadcast(ws.EventRulesUpdate, h.Rules.Snapshot())
	c.JSON(http.StatusOK, rule)
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

func (h Handlers) ReorderRules(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Rules.Reorder(req.IDs); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Hub.Broadcast(ws.EventRulesUpdate, h.Rules.Snapshot())
	c.JSON(http.StatusOK, gin.H{"rules": h.Rules.Snapshot()})
}
