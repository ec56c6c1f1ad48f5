package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/config"
	"devfusion/app/pkg/logger"
)

// newRegistryHarness runs a registry against a scripted transcript store
// (45 messages, one per minute) and a realtime endpoint that accepts
// channel joins and stays silent.
func newRegistryHarness(t *testing.T, opts Options) *Registry {
	t.Helper()

	type wireMessage struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"created_at"`
		User      Author    `json:"user"`
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var rows []wireMessage
	for i := 1; i <= 45; i++ {
		rows = append(rows, wireMessage{
			ID:        fmt.Sprintf("msg-%03d", i),
			UserID:    "user-alice",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i-1) * time.Minute),
			User:      Author{ID: "user-alice", Username: "alice"},
		})
	}

	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		var cursor time.Time
		if v := q.Get("created_at"); strings.HasPrefix(v, "lt.") {
			cursor, _ = time.Parse(time.RFC3339Nano, strings.TrimPrefix(v, "lt."))
		}
		page := []wireMessage{}
		for i := len(rows) - 1; i >= 0 && len(page) < limit; i-- {
			if !cursor.IsZero() && !rows[i].CreatedAt.Before(cursor) {
				continue
			}
			page = append(page, rows[i])
		}
		json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(rest.Close)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	realtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(realtime.Close)

	cfg := &config.Config{}
	cfg.Store.URL = rest.URL
	cfg.Store.AnonKey = "anon"
	cfg.Store.Timeout = 5 * time.Second
	cfg.Store.RealtimeURL = "ws" + strings.TrimPrefix(realtime.URL, "http")

	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	client := store.New(cfg, log)
	t.Cleanup(client.Realtime.Close)

	registry := NewRegistry(NewBackend(client, "chat-uploads"), client.Realtime, opts, log)
	t.Cleanup(registry.Close)
	return registry
}

func TestRegistryKeepsEngineWarmAcrossSequentialRequests(t *testing.T) {
	r := newRegistryHarness(t, Options{PageSize: 20})
	ctx := context.Background()

	first, err := r.Acquire(ctx, "p1", testAuthor)
	require.NoError(t, err)
	assert.Len(t, first.Snapshot(), 20)
	r.Release("p1")

	// Each request-style acquire/release cycle continues the pagination
	// the previous one left behind.
	second, err := r.Acquire(ctx, "p1", testAuthor)
	require.NoError(t, err)
	require.Same(t, first, second, "a released engine stays warm for the next request")
	require.NoError(t, second.LoadOlder(ctx))
	assert.Len(t, second.Snapshot(), 40)
	assert.False(t, second.Exhausted())
	r.Release("p1")

	third, err := r.Acquire(ctx, "p1", testAuthor)
	require.NoError(t, err)
	require.NoError(t, third.LoadOlder(ctx))
	assert.Len(t, third.Snapshot(), 45)
	assert.True(t, third.Exhausted())
	r.Release("p1")
}

func TestRegistryReapsIdleEngineAfterTTL(t *testing.T) {
	r := newRegistryHarness(t, Options{PageSize: 20, IdleTTL: 30 * time.Millisecond})
	ctx := context.Background()

	first, err := r.Acquire(ctx, "p1", testAuthor)
	require.NoError(t, err)
	r.Release("p1")

	time.Sleep(200 * time.Millisecond)

	second, err := r.Acquire(ctx, "p1", testAuthor)
	require.NoError(t, err)
	assert.NotSame(t, first, second, "an engine idle past the TTL is torn down")
	assert.Len(t, second.Snapshot(), 20)
	r.Release("p1")
}

func TestRegistryReacquireCancelsPendingReap(t *testing.T) {
	r := newRegistryHarness(t, Options{PageSize: 20, IdleTTL: 80 * time.Millisecond})
	ctx := context.Background()

	first, err := r.Acquire(ctx, "p1", testAuthor)
	require.NoError(t, err)
	r.Release("p1")

	second, err := r.Acquire(ctx, "p1", testAuthor)
	require.NoError(t, err)
	require.Same(t, first, second)

	// The held reference outlives the original TTL.
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, second.Snapshot(), 20, "a re-acquired engine must survive the cancelled reap")
	r.Release("p1")
}
