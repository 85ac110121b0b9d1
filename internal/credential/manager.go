// Package credential obtains and refreshes the opaque value that
// authenticates the softphone transport for one identity.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidEndpoint     = errors.New("credential: token endpoint is not a well-formed http(s) address")
	ErrServerError         = errors.New("credential: token endpoint returned a non-success status")
	ErrMalformedCredential = errors.New("credential: token body did not yield a plausible value")
)

// minValueLen is the shortest value accepted as a real credential.
// Anything shorter is treated as a malformed endpoint response.
const minValueLen = 20

// Credential is the opaque bearer value authorizing the transport to
// register and place/receive calls, tied to the identity it was fetched for.
type Credential struct {
	Value    string
	Identity string
}

// Manager fetches credentials from the external token service and handles
// the expiry-driven refresh path.
//
// Contract with the session controller: the controller reports an
// authentication-expiry condition via Refresh; the manager re-fetches for
// the same identity and delivers the replacement through the OnRefresh
// callback, without requiring a new session object.
//
// A manually supplied credential (operator override) bypasses automatic
// refresh until it, too, is reported expired.
type Manager struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger

	mu        sync.Mutex
	current   Credential
	haveCred  bool
	manual    bool
	onRefresh func(Credential)
}

func NewManager(endpoint string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

// OnRefresh registers the callback that receives refreshed credentials.
// Intended for the session controller; last registration wins.
func (m *Manager) OnRefresh(fn func(Credential)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRefresh = fn
}

// Current returns the active credential, if any.
func (m *Manager) Current() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.haveCred
}

// SetManual installs an operator-supplied credential. Automatic refresh is
// suspended until this credential is reported expired.
func (m *Manager) SetManual(c Credential) {
	m.mu.Lock()
	cb := m.onRefresh
	m.current = c
	m.haveCred = true
	m.manual = true
	m.mu.Unlock()

	if cb != nil {
		cb(c)
	}
}

// Fetch requests a credential for identity from the token endpoint and
// makes it the active credential.
//
// The endpoint may answer with {"token": "..."} JSON or with a bare text
// body; either way the extracted value must be at least 20 characters.
func (m *Manager) Fetch(ctx context.Context, identity string) (Credential, error) {
	if identity == "" {
		return Credential{}, errors.New("credential: identity is required")
	}

	u, err := url.Parse(m.endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Credential{}, ErrInvalidEndpoint
	}
	q := u.Query()
	q.Set("identity", identity)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Credential{}, ErrInvalidEndpoint
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("credential: reading token body: %w", err)
	}

	value := extractValue(body)
	if len(value) < minValueLen {
		return Credential{}, ErrMalformedCredential
	}

	cred := Credential{Value: value, Identity: identity}
	m.mu.Lock()
	m.current = cred
	m.haveCred = true
	m.manual = false
	m.mu.Unlock()
	return cred, nil
}

// Refresh handles a reported expiry: it re-fetches for the same identity
// and delivers the replacement via the OnRefresh callback. Called by the
// session controller when the transport reports its expiry error code.
func (m *Manager) Refresh(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	if !m.haveCred {
		m.mu.Unlock()
		return Credential{}, errors.New("credential: nothing to refresh")
	}
	identity := m.current.Identity
	// The expiry report ends any manual override.
	m.manual = false
	cb := m.onRefresh
	m.mu.Unlock()

	cred, err := m.Fetch(ctx, identity)
	if err != nil {
		m.log.Error("credential refresh failed", "identity", identity, "err", err)
		return Credential{}, err
	}

	m.log.Info("credential refreshed", "identity", identity)
	if cb != nil {
		cb(cred)
	}
	return cred, nil
}

func extractValue(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Token != "" {
		return payload.Token
	}
	// Bare text body; strip surrounding quotes from JSON string responses.
	return strings.Trim(trimmed, `"`)
}
