package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/reqcontext"
)

// JWTAuth authenticates bearer tokens against either an HMAC secret or an RSA
// public key, and maintains a revocation blacklist keyed by the token's jti
// (falling back to the raw token string when jti is absent).
type JWTAuth struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
	audience  []string
	algorithm string
	keyFunc   jwt.Keyfunc

	mu         sync.RWMutex
	blacklist  map[string]time.Time // jti/token -> expiry, pruned lazily
}

// NewJWTAuth builds a JWT authenticator from cfg. Algorithm defaults to
// HS256; RSA algorithms require PublicKey to verify (signing, if ever
// needed, is out of the gateway's scope — it only verifies tokens issued
// elsewhere).
func NewJWTAuth(cfg config.JWTConfig) (*JWTAuth, error) {
	a := &JWTAuth{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		algorithm: cfg.Algorithm,
		blacklist: make(map[string]time.Time),
	}
	if a.algorithm == "" {
		a.algorithm = "HS256"
	}

	switch {
	case strings.HasPrefix(a.algorithm, "HS"):
		a.secret = []byte(cfg.Secret)
		a.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		}
	case strings.HasPrefix(a.algorithm, "RS"):
		if cfg.PublicKey != "" {
			block, _ := pem.Decode([]byte(cfg.PublicKey))
			if block == nil {
				return nil, fmt.Errorf("failed to parse PEM block containing public key")
			}
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse public key: %w", err)
			}
			rsaPub, ok := pub.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("public key is not an RSA key")
			}
			a.publicKey = rsaPub
		}
		a.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.publicKey, nil
		}
	default:
		return nil, fmt.Errorf("unsupported JWT algorithm: %s", a.algorithm)
	}

	return a, nil
}

// IsEnabled reports whether a verification key is configured.
func (a *JWTAuth) IsEnabled() bool { return len(a.secret) > 0 || a.publicKey != nil }

func extractBearer(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return header[len("Bearer "):]
	}
	if strings.HasPrefix(header, "bearer ") {
		return header[len("bearer "):]
	}
	return ""
}

// Authenticate parses and verifies the bearer token in authHeader (an
// Authorization header value) and returns the resulting Principal.
func (a *JWTAuth) Authenticate(authHeader string) (*reqcontext.Principal, error) {
	tokenString := extractBearer(authHeader)
	if tokenString == "" {
		return nil, errors.ErrUnauthenticated.WithDetails("bearer token not provided")
	}

	token, err := jwt.Parse(tokenString, a.keyFunc)
	if err != nil {
		return nil, errors.ErrUnauthenticated.WithDetails(fmt.Sprintf("invalid token: %v", err))
	}
	if !token.Valid {
		return nil, errors.ErrUnauthenticated.WithDetails("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.ErrUnauthenticated.WithDetails("invalid token claims")
	}

	if a.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != a.issuer {
			return nil, errors.ErrUnauthenticated.WithDetails("invalid token issuer")
		}
	}
	if len(a.audience) > 0 {
		aud, _ := claims.GetAudience()
		if !a.containsAudience(aud) {
			return nil, errors.ErrUnauthenticated.WithDetails("invalid token audience")
		}
	}

	blacklistKey := tokenString
	if jti, ok := claims["jti"].(string); ok && jti != "" {
		blacklistKey = jti
	}
	if a.isBlacklisted(blacklistKey) {
		return nil, errors.ErrTokenBlacklisted
	}

	sub, _ := claims.GetSubject()
	perms := permissionsFromClaims(claims)

	return &reqcontext.Principal{
		ID:          sub,
		Method:      reqcontext.AuthJWT,
		Permissions: perms,
	}, nil
}

func permissionsFromClaims(claims jwt.MapClaims) map[reqcontext.Permission]struct{} {
	raw, _ := claims["permissions"].([]interface{})
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return permissionSet(names)
}

func (a *JWTAuth) containsAudience(tokenAud []string) bool {
	for _, ta := range tokenAud {
		for _, ea := range a.audience {
			if ta == ea {
				return true
			}
		}
	}
	return false
}

// Blacklist revokes a token (by jti when available) until exp, after which
// the entry is pruned lazily on the next isBlacklisted/prune call.
func (a *JWTAuth) Blacklist(tokenOrJTI string, exp time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blacklist[tokenOrJTI] = exp
}

func (a *JWTAuth) isBlacklisted(key string) bool {
	a.mu.RLock()
	exp, ok := a.blacklist[key]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		a.mu.Lock()
		delete(a.blacklist, key)
		a.mu.Unlock()
		return false
	}
	return true
}

// Revoke parses the bearer token in authHeader (without rejecting an
// already-blacklisted one) and blacklists it until its own expiry, for
// /auth/logout. It returns the token's claims, since a caller may
// want to report who was logged out.
func (a *JWTAuth) Revoke(authHeader string) (jwt.MapClaims, error) {
	tokenString, claims, err := a.parseIgnoringBlacklist(authHeader)
	if err != nil {
		return nil, err
	}
	a.blacklistClaims(tokenString, claims)
	return claims, nil
}

// RefreshClaims revokes the bearer token in authHeader and returns its
// claims (minus registered timing/identity fields) so the caller can mint a
// replacement token with the same subject and permissions, for /auth/refresh.
func (a *JWTAuth) RefreshClaims(authHeader string) (jwt.MapClaims, error) {
	tokenString, claims, err := a.parseIgnoringBlacklist(authHeader)
	if err != nil {
		return nil, err
	}
	a.blacklistClaims(tokenString, claims)
	next := jwt.MapClaims{}
	for k, v := range claims {
		switch k {
		case "iat", "exp", "jti", "iss":
			continue
		default:
			next[k] = v
		}
	}
	return next, nil
}

func (a *JWTAuth) parseIgnoringBlacklist(authHeader string) (string, jwt.MapClaims, error) {
	tokenString := extractBearer(authHeader)
	if tokenString == "" {
		return "", nil, errors.ErrUnauthenticated.WithDetails("bearer token not provided")
	}
	token, err := jwt.Parse(tokenString, a.keyFunc)
	if err != nil {
		return "", nil, errors.ErrUnauthenticated.WithDetails(fmt.Sprintf("invalid token: %v", err))
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", nil, errors.ErrUnauthenticated.WithDetails("invalid token claims")
	}
	return tokenString, claims, nil
}

func (a *JWTAuth) blacklistClaims(tokenString string, claims jwt.MapClaims) {
	key := tokenString
	if jti, ok := claims["jti"].(string); ok && jti != "" {
		key = jti
	}
	exp := time.Now().Add(time.Hour)
	if expAt, err := claims.GetExpirationTime(); err == nil && expAt != nil {
		exp = expAt.Time
	}
	a.Blacklist(key, exp)
}

// GenerateToken signs claims with the configured HMAC secret. RSA signing is
// out of scope: the gateway only verifies tokens issued by an upstream
// identity provider, it never acts as one for RSA-signed tokens.
func (a *JWTAuth) GenerateToken(claims map[string]interface{}, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("token generation requires an HMAC secret")
	}
	mapClaims := jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	for k, v := range claims {
		mapClaims[k] = v
	}
	if a.issuer != "" {
		mapClaims["iss"] = a.issuer
	}
	var method jwt.SigningMethod
	switch a.algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return "", fmt.Errorf("unsupported algorithm for token generation: %s", a.algorithm)
	}
	return jwt.NewWithClaims(method, mapClaims).SignedString(a.secret)
}
