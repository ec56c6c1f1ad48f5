// Package session owns the hydrated user identity: the join of the store's
// authentication record with the extended profile row. One manager exists
// per running client; everything else receives the identity through
// constructor injection and treats it as read-only.
package session

import (
	"context"
	"sync"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/logger"
)

// State is the hydration state machine: checking until the first session
// lookup resolves, then authenticated or anonymous.
type State int

const (
	StateChecking State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "checking"
	}
}

// Profile is the extended user row kept alongside the auth record.
type Profile struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	AvatarURL    string `json:"avatar_url"`
	DisplayColor string `json:"display_color"`
	GitHubToken  string `json:"github_token"`
}

// Identity is the merged auth record and profile row.
type Identity struct {
	ID    string
	Email string
	Profile
}

// Store is the slice of the remote store the manager needs.
type Store interface {
	GetSession() *store.Session
	OnAuthStateChange(fn func(store.AuthEvent, *store.Session)) (unsubscribe func())
	FetchProfile(ctx context.Context, userID string) (*Profile, error)
}

// Manager hydrates and re-hydrates the identity on auth-state changes.
// Re-entrant hydrations are version-stamped so a stale fetch can never
// overwrite a newer one.
type Manager struct {
	store Store
	log   *logger.Logger

	mu       sync.Mutex
	state    State
	identity *Identity
	version  uint64
	watchers []func(State, *Identity)

	unsubscribe func()
}

// NewManager creates a manager in the checking state.
func NewManager(st Store, log *logger.Logger) *Manager {
	return &Manager{
		store: st,
		log:   log,
		state: StateChecking,
	}
}

// Start performs the initial hydration and subscribes to auth-state
// changes for the manager's lifetime.
func (m *Manager) Start(ctx context.Context) {
	m.unsubscribe = m.store.OnAuthStateChange(func(event store.AuthEvent, session *store.Session) {
		switch event {
		case store.EventSignedIn:
			m.hydrate(ctx, session)
		case store.EventSignedOut:
			m.clear()
		}
	})
	m.hydrate(ctx, m.store.GetSession())
}

// Close detaches the auth listener.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// State returns the current hydration state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the hydrated identity, or nil when not authenticated.
func (m *Manager) Current() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Watch registers a callback invoked after every state transition.
func (m *Manager) Watch(fn func(State, *Identity)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Refresh re-runs the join against the current session. Profile mutations
// (avatar, color, email, github token) call this so the merged identity
// reflects the latest row.
func (m *Manager) Refresh(ctx context.Context) {
	m.hydrate(ctx, m.store.GetSession())
}

func (m *Manager) hydrate(ctx context.Context, session *store.Session) {
	m.mu.Lock()
	m.version++
	version := m.version
	m.mu.Unlock()

	if session == nil {
		m.apply(version, StateAnonymous, nil)
		return
	}

	identity := &Identity{ID: session.User.ID, Email: session.User.Email}
	profile, err := m.store.FetchProfile(ctx, session.User.ID)
	if err != nil {
		// The auth record alone still authenticates; the profile join is
		// retried on the next Refresh.
		m.log.LogError(err, "profile hydration failed", "user_id", session.User.ID)
	} else {
		identity.Profile = *profile
		if identity.Email == "" {
			identity.Email = profile.Email
		}
	}
	m.apply(version, StateAuthenticated, identity)
}

// clear drops the identity immediately; sign-out never waits on a fetch.
func (m *Manager) clear() {
	m.mu.Lock()
	m.version++
	version := m.version
	m.mu.Unlock()
	m.apply(version, StateAnonymous, nil)
}

func (m *Manager) apply(version uint64, state State, identity *Identity) {
	m.mu.Lock()
	if version < m.version {
		// A newer hydration started while this one was in flight.
		m.mu.Unlock()
		m.log.Debug("discarding stale hydration", "version", version)
		return
	}
	m.state = state
	m.identity = identity
	watchers := make([]func(State, *Identity), len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(state, identity)
	}
}
