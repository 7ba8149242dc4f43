// Package auth implements the gateway's three credential verifiers (API key,
// JWT, Basic) and the Verifier that tries them in the configured order.
package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/reqcontext"
)

// apiKeyRecord is the stored state behind a live key: who it belongs to, its
// permission set, its expiry, and an optional quota override.
type apiKeyRecord struct {
	name        string
	permissions map[reqcontext.Permission]struct{}
	expiresAt   *time.Time
	quotaN      int
	quotaWindow time.Duration
	lastUsed    time.Time
}

// APIKeyAuth authenticates requests against an in-memory table of live keys,
// extracted from either a header or a query parameter.
type APIKeyAuth struct {
	header     string
	queryParam string

	mu   sync.RWMutex
	keys map[string]*apiKeyRecord
}

// NewAPIKeyAuth builds an authenticator preloaded from cfg.Keys.
func NewAPIKeyAuth(cfg config.APIKeyConfig) *APIKeyAuth {
	header := cfg.Header
	if header == "" {
		header = "X-API-Key"
	}
	queryParam := cfg.QueryParam
	if queryParam == "" {
		queryParam = "api_key"
	}
	a := &APIKeyAuth{header: header, queryParam: queryParam, keys: make(map[string]*apiKeyRecord)}
	for _, k := range cfg.Keys {
		a.keys[k.Key] = &apiKeyRecord{
			name:        k.Name,
			permissions: permissionSet(k.Permissions),
			expiresAt:   k.ExpiresAt,
			quotaN:      k.QuotaOverrideN,
			quotaWindow: k.QuotaOverrideWindow,
		}
	}
	return a
}

func permissionSet(names []string) map[reqcontext.Permission]struct{} {
	set := make(map[reqcontext.Permission]struct{}, len(names))
	for _, n := range names {
		set[reqcontext.Permission(strings.ToLower(n))] = struct{}{}
	}
	return set
}

// IsEnabled reports whether API-key auth has at least the mechanism wired;
// an empty key table is still "enabled" so newly minted keys take effect
// without a restart.
func (a *APIKeyAuth) IsEnabled() bool { return a != nil }

// extractKey pulls a candidate key from the header first, then the query
// parameter.
func (a *APIKeyAuth) extractKey(r *http.Request) string {
	if v := r.Header.Get(a.header); v != "" {
		return v
	}
	return r.URL.Query().Get(a.queryParam)
}

// Authenticate verifies the request's API key and returns the resulting
// Principal. It returns ErrUnauthenticated with no key present (so the
// Verifier can fall through to the next configured method), and an
// authoritative failure once a key is present but invalid or expired.
func (a *APIKeyAuth) Authenticate(r *http.Request) (*reqcontext.Principal, error) {
	key := a.extractKey(r)
	if key == "" {
		return nil, errors.ErrUnauthenticated.WithDetails("no API key presented")
	}

	a.mu.RLock()
	rec, ok := a.keys[key]
	a.mu.RUnlock()
	if !ok {
		return nil, errors.ErrUnauthenticated.WithDetails("invalid API key")
	}
	if rec.expiresAt != nil && time.Now().After(*rec.expiresAt) {
		return nil, errors.ErrUnauthenticated.WithDetails("API key has expired")
	}

	a.mu.Lock()
	rec.lastUsed = time.Now()
	a.mu.Unlock()

	var apiRecord *reqcontext.APIKeyRecord
	if rec.quotaN > 0 {
		apiRecord = &reqcontext.APIKeyRecord{Name: rec.name, QuotaOverrideN: rec.quotaN, QuotaOverrideWindow: rec.quotaWindow}
	} else if rec.name != "" {
		apiRecord = &reqcontext.APIKeyRecord{Name: rec.name}
	}

	return &reqcontext.Principal{
		ID:          maskKey(key),
		Method:      reqcontext.AuthAPIKey,
		Permissions: rec.permissions,
		APIKey:      apiRecord,
	}, nil
}

// maskKey produces the identifier stored on the Principal and shown in logs:
// never the raw key.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// AddKey registers a new live key at runtime (the admin API's POST
// /auth/api-keys handler).
func (a *APIKeyAuth) AddKey(key, name string, permissions []string, expiresAt *time.Time, quotaN int, quotaWindow time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[key] = &apiKeyRecord{
		name:        name,
		permissions: permissionSet(permissions),
		expiresAt:   expiresAt,
		quotaN:      quotaN,
		quotaWindow: quotaWindow,
	}
}

// RemoveKey revokes key immediately.
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, key)
}

// AdminKeyEntry is the redacted view of a live key returned by the admin
// listing endpoint; the raw key is always masked.
type AdminKeyEntry struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
}

// ListKeys returns every live key with its raw value masked.
func (a *APIKeyAuth) ListKeys() []AdminKeyEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AdminKeyEntry, 0, len(a.keys))
	for key, rec := range a.keys {
		entry := AdminKeyEntry{Key: maskKey(key), Name: rec.name}
		for p := range rec.permissions {
			entry.Permissions = append(entry.Permissions, string(p))
		}
		entry.ExpiresAt = rec.expiresAt
		if !rec.lastUsed.IsZero() {
			lu := rec.lastUsed
			entry.LastUsed = &lu
		}
		out = append(out, entry)
	}
	return out
}

// ServeAdmin implements the /auth/api-keys admin surface: GET lists keys
// (masked), POST mints a new one, DELETE revokes one.
func (a *APIKeyAuth) ServeAdmin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(a.ListKeys())
	case http.MethodPost:
		var req struct {
			Key                   string     `json:"key"`
			Name                  string     `json:"name"`
			Permissions           []string   `json:"permissions"`
			ExpiresAt             *time.Time `json:"expiresAt"`
			QuotaOverrideRequests int        `json:"quotaOverrideRequests"`
			QuotaOverrideWindow   string     `json:"quotaOverrideWindow"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errors.ErrValidationFailure.WithDetails(err.Error()).WriteJSON(w, false)
			return
		}
		var window time.Duration
		if req.QuotaOverrideWindow != "" {
			d, err := time.ParseDuration(req.QuotaOverrideWindow)
			if err != nil {
				errors.ErrValidationFailure.WithDetails("invalid quotaOverrideWindow").WriteJSON(w, false)
				return
			}
			window = d
		}
		a.AddKey(req.Key, req.Name, req.Permissions, req.ExpiresAt, req.QuotaOverrideRequests, window)
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		key := r.URL.Query().Get("key")
		a.RemoveKey(key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
