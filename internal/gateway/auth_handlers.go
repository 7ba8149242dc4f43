package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	gwerrors "github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/reqcontext"
)

// issuedTokenTTL is the lifetime minted for /auth/login and /auth/refresh
// tokens; the gateway only ever mints HMAC tokens for its own user store, so
// this is an internal policy rather than something an upstream issuer sets.
const issuedTokenTTL = time.Hour

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token       string   `json:"token"`
	ExpiresIn   int      `json:"expiresIn"`
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAuthError(w http.ResponseWriter, gerr *gwerrors.GatewayError) {
	gerr.WriteJSON(w, false)
}

func permissionNames(principal *reqcontext.Principal) []string {
	names := make([]string, 0, len(principal.Permissions))
	for p := range principal.Permissions {
		names = append(names, string(p))
	}
	return names
}

// handleLogin authenticates a {username,password} body against the Basic
// user store and mints a bearer token carrying the same subject and
// permissions, for clients that want a token instead of sending credentials
// on every request.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	basic := g.verifier.Basic()
	jwtAuth := g.verifier.JWT()
	if basic == nil || jwtAuth == nil {
		writeAuthError(w, gwerrors.ErrInternal.WithDetails("login requires both basic and jwt auth enabled"))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, gwerrors.ErrValidationFailure.WithDetails("malformed login body"))
		return
	}

	principal, err := basic.VerifyCredentials(req.Username, req.Password)
	if err != nil {
		gerr, ok := gwerrors.As(err)
		if !ok {
			gerr = gwerrors.ErrUnauthenticated
		}
		writeAuthError(w, gerr)
		return
	}

	claims := map[string]interface{}{
		"sub":         principal.ID,
		"permissions": permissionNames(principal),
	}
	token, err := jwtAuth.GenerateToken(claims, issuedTokenTTL)
	if err != nil {
		writeAuthError(w, gwerrors.ErrInternal.WithDetails("token generation failed"))
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:       token,
		ExpiresIn:   int(issuedTokenTTL.Seconds()),
		UserID:      principal.ID,
		Permissions: permissionNames(principal),
	})
}

// handleLogout blacklists the bearer token presented in the Authorization
// header so it cannot be reused, even though it has not yet expired.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	jwtAuth := g.verifier.JWT()
	if jwtAuth == nil {
		writeAuthError(w, gwerrors.ErrInternal.WithDetails("logout requires jwt auth enabled"))
		return
	}
	if _, err := jwtAuth.Revoke(r.Header.Get("Authorization")); err != nil {
		gerr, ok := gwerrors.As(err)
		if !ok {
			gerr = gwerrors.ErrUnauthenticated
		}
		writeAuthError(w, gerr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh blacklists the presented bearer token and mints a
// replacement carrying the same subject and permissions.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	jwtAuth := g.verifier.JWT()
	if jwtAuth == nil {
		writeAuthError(w, gwerrors.ErrInternal.WithDetails("refresh requires jwt auth enabled"))
		return
	}
	claims, err := jwtAuth.RefreshClaims(r.Header.Get("Authorization"))
	if err != nil {
		gerr, ok := gwerrors.As(err)
		if !ok {
			gerr = gwerrors.ErrUnauthenticated
		}
		writeAuthError(w, gerr)
		return
	}

	next := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		next[k] = v
	}
	token, err := jwtAuth.GenerateToken(next, issuedTokenTTL)
	if err != nil {
		writeAuthError(w, gwerrors.ErrInternal.WithDetails("token generation failed"))
		return
	}

	sub, _ := claims["sub"].(string)
	perms := make([]string, 0)
	if raw, ok := claims["permissions"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				perms = append(perms, s)
			}
		}
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:       token,
		ExpiresIn:   int(issuedTokenTTL.Seconds()),
		UserID:      sub,
		Permissions: perms,
	})
}

// handleProfile returns the identity and permissions of the caller
// authenticated by any of the configured credential methods.
func (g *Gateway) handleProfile(w http.ResponseWriter, r *http.Request) {
	principal, err := g.verifier.Verify(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", g.verifier.Challenge())
		gerr, ok := gwerrors.As(err)
		if !ok {
			gerr = gwerrors.ErrUnauthenticated
		}
		writeAuthError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          principal.ID,
		"method":      principal.Method,
		"permissions": permissionNames(principal),
	})
}

// handleAPIKeys delegates the entire /auth/api-keys surface to the API key
// store's own admin handler, which already implements list/mint/revoke.
func (g *Gateway) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	apiKeys := g.verifier.APIKeys()
	if apiKeys == nil {
		writeAuthError(w, gwerrors.ErrInternal.WithDetails("api key auth is not enabled"))
		return
	}
	apiKeys.ServeAdmin(w, r)
}
