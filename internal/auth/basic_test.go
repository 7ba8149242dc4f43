package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/northbeam/gateway/internal/config"
)

func newBasicAuth(t *testing.T) *BasicAuth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword: %v", err)
	}
	return NewBasicAuth(config.BasicConfig{
		Users: []config.BasicUserConfig{
			{Username: "alice", PasswordHash: string(hash), Permissions: []string{"READ"}},
		},
	})
}

func TestBasicAuthenticateValidCredentials(t *testing.T) {
	a := newBasicAuth(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("alice", "correct-horse")

	p, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.ID != "alice" {
		t.Errorf("ID = %q, want alice", p.ID)
	}
}

func TestBasicAuthenticateWrongPassword(t *testing.T) {
	a := newBasicAuth(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("alice", "wrong-password")
	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestBasicAuthenticateUnknownUser(t *testing.T) {
	a := newBasicAuth(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("bob", "anything")
	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestBasicAuthenticateNoCredentials(t *testing.T) {
	a := newBasicAuth(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected error with no Authorization header")
	}
}

func TestBasicAuthDefaultRealm(t *testing.T) {
	a := NewBasicAuth(config.BasicConfig{})
	if a.Realm() != "gateway" {
		t.Errorf("Realm() = %q, want default gateway", a.Realm())
	}
	if a.IsEnabled() {
		t.Error("IsEnabled should be false with no users configured")
	}
}
