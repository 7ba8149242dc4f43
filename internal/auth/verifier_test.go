package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/northbeam/gateway/internal/config"
)

func newFullVerifier(t *testing.T) *Verifier {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	v, err := NewVerifier(config.AuthConfig{
		APIKey: config.APIKeyConfig{Enabled: true, Keys: []config.APIKeyEntry{{Key: "k1", Name: "svc"}}},
		JWT:    config.JWTConfig{Enabled: true, Secret: "sec", Algorithm: "HS256"},
		Basic:  config.BasicConfig{Enabled: true, Users: []config.BasicUserConfig{{Username: "alice", PasswordHash: string(hash)}}},
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestVerifierPrefersAPIKeyOverOtherMethods(t *testing.T) {
	v := newFullVerifier(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "k1")
	r.SetBasicAuth("alice", "pw")

	p, err := v.Verify(r)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.ID == "alice" {
		t.Error("API key should take precedence over Basic credentials")
	}
}

func TestVerifierFallsThroughToJWTWhenNoAPIKey(t *testing.T) {
	v := newFullVerifier(t)
	token, err := v.jwt.GenerateToken(map[string]interface{}{"sub": "user-1"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	p, err := v.Verify(r)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.ID != "user-1" {
		t.Errorf("ID = %q, want user-1", p.ID)
	}
}

func TestVerifierAuthoritativeMethodDoesNotFallThrough(t *testing.T) {
	v := newFullVerifier(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-API-Key", "wrong-key")
	r.SetBasicAuth("alice", "pw")

	if _, err := v.Verify(r); err == nil {
		t.Fatal("a present but invalid API key must not fall through to Basic auth")
	}
}

func TestVerifierNoCredentialPresented(t *testing.T) {
	v := newFullVerifier(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := v.Verify(r); err == nil {
		t.Fatal("expected error with no credential present")
	}
}

func TestVerifierChallengeOrder(t *testing.T) {
	v := newFullVerifier(t)
	if got := v.Challenge(); got != "API-Key" {
		t.Errorf("Challenge() = %q, want API-Key when api-key auth is enabled", got)
	}
}

func TestVerifierDisabledMethodsAreNil(t *testing.T) {
	v, err := NewVerifier(config.AuthConfig{})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.APIKeys() != nil || v.JWT() != nil || v.Basic() != nil {
		t.Fatal("no method should be wired when none is enabled")
	}
	if got := v.Challenge(); got != "" {
		t.Errorf("Challenge() = %q, want empty with nothing enabled", got)
	}
}
