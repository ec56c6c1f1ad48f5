package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"devfusion/app/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the store's realtime endpoint
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

// ChangeEvent describes the row-level notifications a binding wants:
// INSERT or UPDATE on a schema-qualified table, optionally narrowed by a
// filter such as "project_id=eq.<id>".
type ChangeEvent struct {
	Event  string
	Schema string
	Table  string
	Filter string
}

// ChangePayload is one delivered row change.
type ChangePayload struct {
	Event  string         `json:"type"`
	Schema string         `json:"schema"`
	Table  string         `json:"table"`
	New    map[string]any `json:"record"`
	Old    map[string]any `json:"old_record"`
}

// realtimeMessage is the framing used on the realtime socket.
type realtimeMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

type binding struct {
	event   ChangeEvent
	handler func(ChangePayload)
}

// Channel is a named realtime subscription carrying one or more bindings.
type Channel struct {
	topic    string
	bindings []binding
	rt       *Realtime
}

// On registers a handler for matching row changes. Must be called before
// Subscribe.
func (ch *Channel) On(event ChangeEvent, handler func(ChangePayload)) *Channel {
	ch.bindings = append(ch.bindings, binding{event: event, handler: handler})
	return ch
}

// Subscribe joins the channel on the shared socket, connecting it first if
// needed.
func (ch *Channel) Subscribe(ctx context.Context) error {
	return ch.rt.subscribe(ctx, ch)
}

type joinPayload struct {
	Config struct {
		PostgresChanges []map[string]string `json:"postgres_changes"`
	} `json:"config"`
}

// Realtime is the push-notification surface of the store: a single
// websocket multiplexing per-topic channels.
type Realtime struct {
	url    string
	apiKey string
	log    *logger.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*Channel
	nextRef  int
	done     chan struct{}
}

func newRealtime(url, apiKey string, log *logger.Logger) *Realtime {
	return &Realtime{
		url:      url,
		apiKey:   apiKey,
		log:      log,
		channels: make(map[string]*Channel),
	}
}

// Channel returns the channel for a topic, creating it if absent.
func (r *Realtime) Channel(topic string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[topic]; ok {
		return ch
	}
	ch := &Channel{topic: topic, rt: r}
	r.channels[topic] = ch
	return ch
}

// RemoveChannel leaves the topic and drops its bindings. Views call this on
// teardown; late notifications for a removed topic are discarded.
func (r *Realtime) RemoveChannel(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, ch.topic)
	if r.conn != nil {
		msg := realtimeMessage{Topic: ch.topic, Event: "phx_leave", Ref: r.ref()}
		r.writeLocked(msg)
	}
}

// Close tears down the socket and all channels.
func (r *Realtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		close(r.done)
		r.conn.Close()
		r.conn = nil
	}
	r.channels = make(map[string]*Channel)
}

func (r *Realtime) subscribe(ctx context.Context, ch *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		if err := r.connectLocked(ctx); err != nil {
			return err
		}
	}

	payload := joinPayload{}
	for _, b := range ch.bindings {
		entry := map[string]string{
			"event":  b.event.Event,
			"schema": b.event.Schema,
			"table":  b.event.Table,
		}
		if b.event.Filter != "" {
			entry["filter"] = b.event.Filter
		}
		payload.Config.PostgresChanges = append(payload.Config.PostgresChanges, entry)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.writeLocked(realtimeMessage{
		Topic:   ch.topic,
		Event:   "phx_join",
		Payload: raw,
		Ref:     r.ref(),
	})
}

func (r *Realtime) connectLocked(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url+"?apikey="+r.apiKey, nil)
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}
	r.conn = conn
	r.done = make(chan struct{})

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	jobs := make(chan dispatchJob, 256)
	go r.readLoop(conn, jobs, r.done)
	go r.dispatchLoop(jobs, r.done)
	go r.heartbeat(conn, r.done)
	return nil
}

// dispatchJob is one delivered notification with its matching handlers.
type dispatchJob struct {
	handlers []func(ChangePayload)
	payload  ChangePayload
}

// dispatchLoop delivers notifications one at a time, preserving the order
// the server emitted them. A slow handler delays later notifications
// instead of letting them overtake each other.
func (r *Realtime) dispatchLoop(jobs chan dispatchJob, done chan struct{}) {
	for {
		select {
		case job := <-jobs:
			for _, h := range job.handlers {
				h(job.payload)
			}
		case <-done:
			return
		}
	}
}

func (r *Realtime) readLoop(conn *websocket.Conn, jobs chan dispatchJob, done chan struct{}) {
	for {
		var msg realtimeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Warn("realtime socket closed", "error", err.Error())
			}
			return
		}
		if msg.Event != "postgres_changes" {
			continue
		}

		var wrapper struct {
			Data ChangePayload `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &wrapper); err != nil {
			r.log.Warn("realtime payload decode failed", "error", err.Error())
			continue
		}

		r.mu.Lock()
		ch, ok := r.channels[msg.Topic]
		var handlers []func(ChangePayload)
		if ok {
			for _, b := range ch.bindings {
				if bindingMatches(b.event, wrapper.Data) {
					handlers = append(handlers, b.handler)
				}
			}
		}
		r.mu.Unlock()

		if len(handlers) == 0 {
			continue
		}
		// Handlers run off the socket goroutine, on the serial dispatch
		// loop; the buffer absorbs bursts without reordering them.
		select {
		case jobs <- dispatchJob{handlers: handlers, payload: wrapper.Data}:
		case <-done:
			return
		}
	}
}

func bindingMatches(want ChangeEvent, got ChangePayload) bool {
	if want.Event != "*" && want.Event != got.Event {
		return false
	}
	if want.Table != "" && want.Table != got.Table {
		return false
	}
	if want.Schema != "" && got.Schema != "" && want.Schema != got.Schema {
		return false
	}
	return true
}

func (r *Realtime) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			err := r.writeLocked(realtimeMessage{Topic: "phoenix", Event: "heartbeat", Ref: r.ref()})
			r.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// writeLocked must be called with the mutex held.
func (r *Realtime) writeLocked(msg realtimeMessage) error {
	if r.conn == nil {
		return nil
	}
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return r.conn.WriteJSON(msg)
}

// ref must be called with the mutex held.
func (r *Realtime) ref() string {
	r.nextRef++
	return strconv.Itoa(r.nextRef)
}
