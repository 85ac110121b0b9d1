package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const plausibleToken = "eyJ0eXAiOiJKV1QifQ.payload.signature"

func TestFetch_JSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("identity"); got != "u_admin" {
			t.Errorf("identity query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token": "` + plausibleToken + `"}`))
	}))
	defer srv.Close()

	m := NewManager(srv.URL, nil)
	cred, err := m.Fetch(context.Background(), "u_admin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cred.Value != plausibleToken || cred.Identity != "u_admin" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if cur, ok := m.Current(); !ok || cur != cred {
		t.Fatalf("expected fetched credential to become current")
	}
}

func TestFetch_BareTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(plausibleToken + "\n"))
	}))
	defer srv.Close()

	m := NewManager(srv.URL, nil)
	cred, err := m.Fetch(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cred.Value != plausibleToken {
		t.Fatalf("got %q", cred.Value)
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManager(srv.URL, nil)
	if _, err := m.Fetch(context.Background(), "u1"); !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
}

func TestFetch_ShortValueIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	m := NewManager(srv.URL, nil)
	if _, err := m.Fetch(context.Background(), "u1"); !errors.Is(err, ErrMalformedCredential) {
		t.Fatalf("expected ErrMalformedCredential, got %v", err)
	}
}

func TestFetch_InvalidEndpoint(t *testing.T) {
	for _, ep := range []string{"", "not a url", "ftp://example.com/token", "/relative/path"} {
		m := NewManager(ep, nil)
		if _, err := m.Fetch(context.Background(), "u1"); !errors.Is(err, ErrInvalidEndpoint) {
			t.Fatalf("endpoint %q: expected ErrInvalidEndpoint, got %v", ep, err)
		}
	}
}

func TestRefresh_RefetchesSameIdentityAndDelivers(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.URL.Query().Get("identity"); got != "u_admin" {
			t.Errorf("identity query = %q", got)
		}
		w.Write([]byte(plausibleToken))
	}))
	defer srv.Close()

	m := NewManager(srv.URL, nil)
	var delivered []Credential
	m.OnRefresh(func(c Credential) { delivered = append(delivered, c) })

	if _, err := m.Fetch(context.Background(), "u_admin"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected 2 endpoint calls, got %d", calls)
	}
	if len(delivered) != 1 || delivered[0].Identity != "u_admin" {
		t.Fatalf("expected one delivered refresh, got %+v", delivered)
	}
}

func TestRefresh_WithoutCredentialFails(t *testing.T) {
	m := NewManager("https://example.com/token", nil)
	if _, err := m.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error with no active credential")
	}
}

func TestSetManual_DeliversAndSurvivesUntilExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(plausibleToken))
	}))
	defer srv.Close()

	m := NewManager(srv.URL, nil)
	var delivered []Credential
	m.OnRefresh(func(c Credential) { delivered = append(delivered, c) })

	manual := Credential{Value: "manually-issued-credential-value", Identity: "u_admin"}
	m.SetManual(manual)
	if cur, ok := m.Current(); !ok || cur != manual {
		t.Fatalf("expected manual credential to be current")
	}
	if len(delivered) != 1 {
		t.Fatalf("expected manual credential delivered to controller")
	}

	// Expiry report re-enables automatic refresh for the same identity.
	cred, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if cred.Value != plausibleToken || cred.Identity != "u_admin" {
		t.Fatalf("unexpected refreshed credential: %+v", cred)
	}
}
