package chat

import (
	"context"
	"sync"
	"time"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/logger"
)

const defaultIdleTTL = 2 * time.Minute

// Registry hands out one engine per open project view and wires it to the
// realtime streams it consumes: chat message inserts filtered by project,
// and profile updates on the users table. A project whose last reference
// is released stays warm for an idle TTL, so sequential requests against
// the same transcript (the page load, then older-history pages) share one
// engine and its pagination state; the reaper then removes the channel
// and closes the engine, discarding late notifications.
type Registry struct {
	backend  *Backend
	realtime *store.Realtime
	opts     Options
	idleTTL  time.Duration
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*projectSession
}

type projectSession struct {
	engine  *Engine
	channel *store.Channel
	refs    int
	reaper  *time.Timer
}

func NewRegistry(backend *Backend, realtime *store.Realtime, opts Options, log *logger.Logger) *Registry {
	ttl := opts.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	return &Registry{
		backend:  backend,
		realtime: realtime,
		opts:     opts,
		idleTTL:  ttl,
		log:      log,
		sessions: make(map[string]*projectSession),
	}
}

// Backend exposes the store adapter for callers that query outside an
// engine, such as the mention search.
func (r *Registry) Backend() *Backend { return r.backend }

// Acquire returns the project's engine, creating and subscribing it on
// first use. Every Acquire must be paired with a Release.
func (r *Registry) Acquire(ctx context.Context, projectID string, self Author) (*Engine, error) {
	r.mu.Lock()
	if s, ok := r.sessions[projectID]; ok {
		s.retain()
		r.mu.Unlock()
		return s.engine, nil
	}
	r.mu.Unlock()

	engine := NewEngine(r.backend, self, projectID, r.opts, r.log)

	channel := r.realtime.Channel("realtime:project:" + projectID)
	channel.On(store.ChangeEvent{
		Event:  "INSERT",
		Schema: "public",
		Table:  "chat_messages",
		Filter: "project_id=eq." + projectID,
	}, func(payload store.ChangePayload) {
		id, _ := payload.New["id"].(string)
		if id == "" {
			return
		}
		engine.HandleRemoteInsert(context.Background(), id)
	})
	channel.On(store.ChangeEvent{
		Event:  "UPDATE",
		Schema: "public",
		Table:  "users",
	}, func(payload store.ChangePayload) {
		author := authorFromRow(payload.New)
		if author.ID == "" {
			return
		}
		engine.HandleProfileUpdate(author)
	})

	if err := channel.Subscribe(ctx); err != nil {
		engine.Close()
		return nil, err
	}
	if err := engine.LoadInitialHistory(ctx); err != nil {
		r.realtime.RemoveChannel(channel)
		engine.Close()
		return nil, err
	}

	r.mu.Lock()
	// Another Acquire may have raced the setup; the first registered
	// session wins and the loser is torn down.
	if existing, ok := r.sessions[projectID]; ok {
		existing.retain()
		r.mu.Unlock()
		r.realtime.RemoveChannel(channel)
		engine.Close()
		return existing.engine, nil
	}
	r.sessions[projectID] = &projectSession{engine: engine, channel: channel, refs: 1}
	r.mu.Unlock()
	return engine, nil
}

// retain must be called with the registry mutex held. Re-acquiring a
// warm session cancels its pending reap.
func (s *projectSession) retain() {
	if s.reaper != nil {
		s.reaper.Stop()
		s.reaper = nil
	}
	s.refs++
}

// Release drops one reference to the project's engine. The last release
// schedules teardown after the idle TTL instead of tearing down
// immediately, so a follow-up request finds the transcript where the
// previous one left it.
func (r *Registry) Release(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[projectID]
	if !ok {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	s.reaper = time.AfterFunc(r.idleTTL, func() { r.reap(projectID) })
}

// reap tears down a session that stayed idle through the TTL.
func (r *Registry) reap(projectID string) {
	r.mu.Lock()
	s, ok := r.sessions[projectID]
	if !ok || s.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, projectID)
	r.mu.Unlock()

	r.realtime.RemoveChannel(s.channel)
	s.engine.Close()
}

// Close tears down every open session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*projectSession)
	r.mu.Unlock()

	for _, s := range sessions {
		if s.reaper != nil {
			s.reaper.Stop()
		}
		r.realtime.RemoveChannel(s.channel)
		s.engine.Close()
	}
}

// authorFromRow maps a users row change into the denormalized author form.
func authorFromRow(row map[string]any) Author {
	str := func(key string) string {
		v, _ := row[key].(string)
		return v
	}
	return Author{
		ID:           str("id"),
		Username:     str("username"),
		AvatarURL:    str("avatar_url"),
		DisplayColor: str("display_color"),
	}
}
