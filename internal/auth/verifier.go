package auth

import (
	"net/http"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/reqcontext"
)

// Verifier tries each configured credential method in a fixed order — API
// key, then bearer/JWT, then Basic — stopping at the first method whose
// credential is actually present. That method is then authoritative: if its
// credential fails verification, the request is rejected without falling
// through to a method further down the order, even if that one is also
// configured.
type Verifier struct {
	apiKey *APIKeyAuth
	jwt    *JWTAuth
	basic  *BasicAuth
}

// NewVerifier builds a Verifier wiring whichever of the three methods cfg
// enables. A method with Enabled: false is skipped entirely, as if its
// credential were never presented.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{}
	if cfg.APIKey.Enabled {
		v.apiKey = NewAPIKeyAuth(cfg.APIKey)
	}
	if cfg.JWT.Enabled {
		j, err := NewJWTAuth(cfg.JWT)
		if err != nil {
			return nil, err
		}
		v.jwt = j
	}
	if cfg.Basic.Enabled {
		v.basic = NewBasicAuth(cfg.Basic)
	}
	return v, nil
}

// APIKeys exposes the API-key store for the admin surface; nil if API-key
// auth is disabled.
func (v *Verifier) APIKeys() *APIKeyAuth { return v.apiKey }

// JWT exposes the JWT authenticator for the login/refresh endpoints; nil if
// JWT auth is disabled.
func (v *Verifier) JWT() *JWTAuth { return v.jwt }

// Basic exposes the Basic user store for the login endpoint's credential
// check; nil if Basic auth is disabled.
func (v *Verifier) Basic() *BasicAuth { return v.basic }

// Verify authenticates r against whichever method's credential is present,
// in API-key -> JWT -> Basic order. It returns ErrUnauthenticated (with no
// details about which methods were tried) when no credential is present at
// all.
func (v *Verifier) Verify(r *http.Request) (*reqcontext.Principal, error) {
	if v.apiKey != nil && v.apiKey.extractKey(r) != "" {
		return v.apiKey.Authenticate(r)
	}
	if v.jwt != nil {
		if authHeader := r.Header.Get("Authorization"); extractBearer(authHeader) != "" {
			return v.jwt.Authenticate(authHeader)
		}
	}
	if v.basic != nil {
		if _, _, ok := r.BasicAuth(); ok {
			return v.basic.Authenticate(r)
		}
	}
	return nil, errors.ErrUnauthenticated.WithDetails("no credential presented")
}

// Challenge returns the WWW-Authenticate header value appropriate for the
// first enabled method, used when writing a 401 response.
func (v *Verifier) Challenge() string {
	switch {
	case v.apiKey != nil:
		return `API-Key`
	case v.jwt != nil:
		return `Bearer realm="gateway"`
	case v.basic != nil:
		return `Basic realm="` + v.basic.Realm() + `"`
	default:
		return ""
	}
}
