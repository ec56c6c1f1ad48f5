package store

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthEvent is an auth-state change notification.
type AuthEvent string

const (
	// EventSignedIn fires on login, signup with auto-confirm, and session restore.
	EventSignedIn AuthEvent = "SIGNED_IN"
	// EventSignedOut fires when the session is cleared.
	EventSignedOut AuthEvent = "SIGNED_OUT"
)

// AuthUser is the authentication record held inside a session.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the store-issued authentication session.
type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	TokenType    string   `json:"token_type"`
	User         AuthUser `json:"user"`
}

// TokenClaims are the identity claims carried in a session's access token.
// The token is issued and verified by the store; the client reads it
// unverified, trusting the transport.
type TokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Claims parses the identity claims out of the session's access token.
func (s *Session) Claims() (*TokenClaims, error) {
	claims := &TokenClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(s.AccessToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expired reports whether the access token's expiry has passed.
func (s *Session) Expired() bool {
	claims, err := s.Claims()
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(time.Now())
}

type authListener struct {
	id int
	fn func(AuthEvent, *Session)
}

// Auth is the session-based authentication surface of the store.
type Auth struct {
	c *Client

	mu        sync.Mutex
	session   *Session
	listeners []authListener
	nextID    int
}

func newAuth(c *Client) *Auth {
	return &Auth{c: c}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInWithPassword authenticates with email and password.
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	err := a.c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", nil, credentials{email, password}, &session)
	if err != nil {
		return nil, err
	}
	a.setSession(&session)
	return &session, nil
}

// SignUp registers a new account. When the store auto-confirms, the
// returned session is active immediately.
func (a *Auth) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	err := a.c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, credentials{email, password}, &session)
	if err != nil {
		return nil, err
	}
	if session.AccessToken != "" {
		a.setSession(&session)
		return &session, nil
	}
	return nil, nil
}

// SignOut revokes the session remotely and clears it locally. The local
// clear happens regardless of the remote result.
func (a *Auth) SignOut(ctx context.Context) error {
	err := a.c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, nil)

	a.mu.Lock()
	a.session = nil
	listeners := a.snapshotListeners()
	a.mu.Unlock()

	for _, l := range listeners {
		l.fn(EventSignedOut, nil)
	}
	return err
}

// GetSession returns the current session, or nil when anonymous.
func (a *Auth) GetSession() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil && a.session.Expired() {
		return nil
	}
	return a.session
}

// RestoreSession installs a previously issued session (e.g. from a stored
// refresh flow) and notifies listeners.
func (a *Auth) RestoreSession(session *Session) {
	a.setSession(session)
}

// OnAuthStateChange registers a listener for sign-in/sign-out events and
// returns a function that unsubscribes it.
func (a *Auth) OnAuthStateChange(fn func(AuthEvent, *Session)) func() {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, authListener{id: id, fn: fn})
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, l := range a.listeners {
			if l.id == id {
				a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
				return
			}
		}
	}
}

func (a *Auth) setSession(session *Session) {
	a.mu.Lock()
	a.session = session
	listeners := a.snapshotListeners()
	a.mu.Unlock()

	for _, l := range listeners {
		l.fn(EventSignedIn, session)
	}
}

// snapshotListeners must be called with the mutex held.
func (a *Auth) snapshotListeners() []authListener {
	out := make([]authListener, len(a.listeners))
	copy(out, a.listeners)
	return out
}
