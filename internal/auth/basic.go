package auth

import (
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/reqcontext"
)

type basicUser struct {
	passwordHash []byte
	clientID     string
	permissions  map[reqcontext.Permission]struct{}
}

// BasicAuth authenticates HTTP Basic credentials against a local user list.
type BasicAuth struct {
	realm     string
	users     map[string]*basicUser
	dummyHash []byte // compared against on unknown usernames so bcrypt runs either way
	mu        sync.RWMutex
}

// NewBasicAuth builds a Basic authenticator from cfg.
func NewBasicAuth(cfg config.BasicConfig) *BasicAuth {
	realm := cfg.Realm
	if realm == "" {
		realm = "gateway"
	}
	users := make(map[string]*basicUser, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = &basicUser{
			passwordHash: []byte(u.PasswordHash),
			clientID:     u.ClientID,
			permissions:  permissionSet(u.Permissions),
		}
	}
	dummyHash, _ := bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.DefaultCost)
	return &BasicAuth{realm: realm, users: users, dummyHash: dummyHash}
}

// IsEnabled reports whether at least one user is configured.
func (a *BasicAuth) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users) > 0
}

// Realm returns the configured realm for the WWW-Authenticate challenge.
func (a *BasicAuth) Realm() string { return a.realm }

// Authenticate verifies Basic credentials carried by r.
func (a *BasicAuth) Authenticate(r *http.Request) (*reqcontext.Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, errors.ErrUnauthenticated.WithDetails("basic credentials not provided")
	}
	return a.VerifyCredentials(username, password)
}

// VerifyCredentials checks a username/password pair directly against the
// user list, independent of the Basic auth header — used by the /auth/login
// endpoint, which accepts credentials in a JSON body rather than the
// Authorization header.
func (a *BasicAuth) VerifyCredentials(username, password string) (*reqcontext.Principal, error) {
	a.mu.RLock()
	user, found := a.users[username]
	a.mu.RUnlock()

	if !found {
		// Run bcrypt against the dummy hash regardless, so an unknown
		// username takes the same time as a wrong password.
		bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return nil, errors.ErrUnauthenticated.WithDetails("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)); err != nil {
		return nil, errors.ErrUnauthenticated.WithDetails("invalid credentials")
	}

	id := user.clientID
	if id == "" {
		id = username
	}
	return &reqcontext.Principal{
		ID:          id,
		Method:      reqcontext.AuthBasic,
		Permissions: user.permissions,
	}, nil
}
