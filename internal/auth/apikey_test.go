package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/reqcontext"
)

func newAPIKeyAuth() *APIKeyAuth {
	return NewAPIKeyAuth(config.APIKeyConfig{
		Keys: []config.APIKeyEntry{
			{Key: "valid-key-1234", Name: "svc-a", Permissions: []string{"READ"}},
		},
	})
}

func TestAPIKeyAuthenticateMissingKey(t *testing.T) {
	a := newAPIKeyAuth()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error with no key presented")
	}
}

func TestAPIKeyAuthenticateFromHeader(t *testing.T) {
	a := newAPIKeyAuth()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "valid-key-1234")

	p, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Method != reqcontext.AuthAPIKey {
		t.Errorf("Method = %v, want AuthAPIKey", p.Method)
	}
	if _, ok := p.Permissions["read"]; !ok {
		t.Errorf("permissions = %v, want read present", p.Permissions)
	}
	if p.ID == "valid-key-1234" {
		t.Error("Principal.ID should be masked, not the raw key")
	}
}

func TestAPIKeyAuthenticateFromQueryParam(t *testing.T) {
	a := newAPIKeyAuth()
	r := httptest.NewRequest(http.MethodGet, "/?api_key=valid-key-1234", nil)
	if _, err := a.Authenticate(r); err != nil {
		t.Fatalf("Authenticate via query param: %v", err)
	}
}

func TestAPIKeyAuthenticateUnknownKey(t *testing.T) {
	a := newAPIKeyAuth()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "does-not-exist")
	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestAPIKeyAuthenticateExpiredKey(t *testing.T) {
	a := NewAPIKeyAuth(config.APIKeyConfig{})
	past := time.Now().Add(-time.Hour)
	a.AddKey("expired-key", "svc", nil, &past, 0, 0)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "expired-key")
	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for expired key")
	}
}

func TestAPIKeyAddAndRemove(t *testing.T) {
	a := NewAPIKeyAuth(config.APIKeyConfig{})
	a.AddKey("new-key", "svc-b", []string{"WRITE"}, nil, 0, 0)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "new-key")
	if _, err := a.Authenticate(r); err != nil {
		t.Fatalf("newly added key should authenticate: %v", err)
	}

	a.RemoveKey("new-key")
	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("removed key should no longer authenticate")
	}
}

func TestAPIKeyListKeysMasksRawValue(t *testing.T) {
	a := newAPIKeyAuth()
	entries := a.ListKeys()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Key == "valid-key-1234" {
		t.Error("ListKeys should never expose the raw key")
	}
}

func TestMaskKeyShortKey(t *testing.T) {
	if got := maskKey("abc"); got != "****" {
		t.Errorf("maskKey(short) = %q, want ****", got)
	}
}
