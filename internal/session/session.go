// Package session holds the signed-in user's credential and identity.
//
// The orchestrator and the API client receive a Provider at construction and
// query it synchronously; nothing else reads the stored credential.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/4xmen/kelasyar/internal/auth"
	"github.com/4xmen/kelasyar/internal/models"
)

var ErrSignedOut = errors.New("not signed in")

type Provider interface {
	Token() string
	CurrentUser() (models.User, bool)
}

// Store persists the bearer token between runs. *db.DB implements it.
type Store interface {
	SaveSession(token string) error
	LoadSession() (string, error)
	ClearSession() error
}

// Static is a fixed session, used by tests and the sandbox.
type Static struct {
	token string
	user  models.User
}

func NewStatic(token string, user models.User) *Static {
	return &Static{token: token, user: user}
}

func (s *Static) Token() string { return s.token }

func (s *Static) CurrentUser() (models.User, bool) {
	return s.user, s.user.ID > 0
}

// Session derives the current user from the claims of a JWT bearer token.
type Session struct {
	mu     sync.RWMutex
	store  Store
	token  string
	claims *auth.Claims
	now    func() time.Time
}

// Load restores the session from store. A non-empty override (e.g. from the
// environment) takes precedence and is not persisted.
func Load(store Store, override string) (*Session, error) {
	s := &Session{store: store, now: time.Now}

	token := override
	if token == "" && store != nil {
		saved, err := store.LoadSession()
		if err != nil {
			return nil, err
		}
		token = saved
	}
	if token == "" {
		return s, nil
	}

	claims, err := auth.ParseUnverified(token, s.now())
	if err != nil {
		return s, fmt.Errorf("stored session unusable: %w", err)
	}
	s.token, s.claims = token, claims
	return s, nil
}

// SignIn validates the token's claims and persists it.
func (s *Session) SignIn(token string) error {
	claims, err := auth.ParseUnverified(token, s.now())
	if err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveSession(token); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.token, s.claims = token, claims
	s.mu.Unlock()
	return nil
}

func (s *Session) SignOut() error {
	s.mu.Lock()
	s.token, s.claims = "", nil
	s.mu.Unlock()

	if s.store != nil {
		return s.store.ClearSession()
	}
	return nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) CurrentUser() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil {
		return models.User{}, false
	}
	return s.claims.User(), true
}

// Require returns the current user or ErrSignedOut.
func Require(p Provider) (models.User, error) {
	if p == nil || p.Token() == "" {
		return models.User{}, ErrSignedOut
	}
	user, ok := p.CurrentUser()
	if !ok {
		return models.User{}, ErrSignedOut
	}
	return user, nil
}
