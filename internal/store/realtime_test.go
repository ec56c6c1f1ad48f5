package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devfusion/app/pkg/config"
	"devfusion/app/pkg/logger"
)

// newRealtimeTestClient serves a scripted realtime endpoint: after the
// channel join it pushes the given notifications, in order, then holds
// the socket open.
func newRealtimeTestClient(t *testing.T, notifications []string) *Client {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join realtimeMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		for _, payload := range notifications {
			msg := realtimeMessage{
				Topic:   join.Topic,
				Event:   "postgres_changes",
				Payload: json.RawMessage(payload),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Store.URL = srv.URL
	cfg.Store.AnonKey = "anon"
	cfg.Store.Timeout = 5 * time.Second
	cfg.Store.RealtimeURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	client := New(cfg, log)
	t.Cleanup(client.Realtime.Close)
	return client
}

func TestRealtimeDeliversNotificationsInOrder(t *testing.T) {
	const total = 20
	notifications := make([]string, total)
	for i := range notifications {
		notifications[i] = fmt.Sprintf(
			`{"data":{"type":"INSERT","schema":"public","table":"things","record":{"id":"row-%02d"}}}`, i)
	}
	client := newRealtimeTestClient(t, notifications)

	var mu sync.Mutex
	var got []string
	ch := client.Realtime.Channel("realtime:things")
	ch.On(ChangeEvent{Event: "INSERT", Schema: "public", Table: "things"}, func(p ChangePayload) {
		id, _ := p.New["id"].(string)
		// A slow first delivery must delay the rest, never be overtaken.
		if id == "row-00" {
			time.Sleep(100 * time.Millisecond)
		}
		mu.Lock()
		got = append(got, id)
		mu.Unlock()
	})
	require.NoError(t, ch.Subscribe(context.Background()))

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= total || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, total)
	for i, id := range got {
		assert.Equal(t, fmt.Sprintf("row-%02d", i), id, "notification %d applied out of order", i)
	}
}
