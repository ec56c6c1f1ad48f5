package chat

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"devfusion/app/pkg/logger"
)

// Upload is one file handed to Send.
type Upload struct {
	Filename string
	MimeType string
	Content  io.Reader
}

// NewMessageRow is the payload for a message insert.
type NewMessageRow struct {
	ProjectID string
	UserID    string
	Content   string
}

// Store is the slice of the remote store the engine needs. History queries
// return rows ordered newest-first; the engine reverses for display.
type Store interface {
	RecentMessages(ctx context.Context, projectID string, limit int) ([]Record, error)
	MessagesBefore(ctx context.Context, projectID string, cursor time.Time, limit int) ([]Record, error)
	MessageByID(ctx context.Context, id string) (*Record, error)
	InsertMessage(ctx context.Context, row NewMessageRow) (*Record, error)
	UploadAttachment(ctx context.Context, messageID string, upload Upload) (string, error)
	SearchMembers(ctx context.Context, projectID, prefix string, limit int) ([]Author, error)
}

// UpdateKind classifies transcript transitions for observers.
type UpdateKind int

const (
	TranscriptReplaced UpdateKind = iota
	HistoryPrepended
	MessageAppended
	MessagePatched
	ScrolledToBottom
)

// Update is one applied transition, delivered to subscribers. Callbacks
// run on the reducer goroutine and must not call back into the engine,
// so TranscriptReplaced and HistoryPrepended updates carry the full
// transcript and the exhausted flag with them.
type Update struct {
	Kind      UpdateKind
	Message   *Message
	Messages  []Message
	Exhausted bool
}

// Options tune an engine.
type Options struct {
	// PageSize is the history page size (default 20).
	PageSize int
	// HeightOf estimates a rendered message's height for scroll anchor
	// compensation. Defaults to a fixed row height.
	HeightOf func(Message) int
	// IdleTTL is how long the registry keeps a fully released engine warm
	// before tearing it down (default 2 minutes).
	IdleTTL time.Duration
}

const defaultRowHeight = 100

// Engine owns the transcript for one mounted project view. The three input
// streams (history pages, realtime inserts, profile updates) and local
// sends are folded into state by a single reducer goroutine, so every
// transition is atomic; transitions posted after Close are discarded.
type Engine struct {
	store     Store
	log       *logger.Logger
	projectID string
	self      Author
	pageSize  int
	heightOf  func(Message) int

	commands chan func()
	closed   chan struct{}

	initialLoaded atomic.Bool

	// Reducer-owned state. Only the run loop touches these.
	messages    []Message
	exhausted   bool
	loadingMore bool
	viewport    Viewport
	subscribers map[int]func(Update)
	nextSubID   int
}

// NewEngine creates an engine for one project transcript. self is the
// hydrated identity's author form, injected by the caller.
func NewEngine(st Store, self Author, projectID string, opts Options, log *logger.Logger) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.HeightOf == nil {
		opts.HeightOf = func(Message) int { return defaultRowHeight }
	}
	e := &Engine{
		store:       st,
		log:         log.WithProject(projectID),
		projectID:   projectID,
		self:        self,
		pageSize:    opts.PageSize,
		heightOf:    opts.HeightOf,
		commands:    make(chan func()),
		closed:      make(chan struct{}),
		viewport:    Viewport{AtBottom: true},
		subscribers: make(map[int]func(Update)),
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	for {
		select {
		case fn := <-e.commands:
			fn()
		case <-e.closed:
			return
		}
	}
}

// apply posts a transition to the reducer. After Close the transition is
// dropped, which is what guards late-arriving responses after teardown.
func (e *Engine) apply(fn func()) {
	select {
	case e.commands <- fn:
	case <-e.closed:
	}
}

// applyWait posts a transition and waits for it to be applied (or for the
// engine to close).
func (e *Engine) applyWait(fn func()) {
	done := make(chan struct{})
	e.apply(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-e.closed:
	}
}

// Close tears the engine down. The realtime channels feeding it are
// removed by the caller; anything still in flight is discarded.
func (e *Engine) Close() {
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
}

// Subscribe registers an observer for transcript transitions and returns
// a function that unsubscribes it. Callbacks run on the reducer goroutine
// and must not block or call back into the engine; everything a callback
// needs is carried on the Update itself.
func (e *Engine) Subscribe(fn func(Update)) (unsubscribe func()) {
	var id int
	e.applyWait(func() {
		e.nextSubID++
		id = e.nextSubID
		e.subscribers[id] = fn
	})
	return func() {
		e.applyWait(func() {
			delete(e.subscribers, id)
		})
	}
}

func (e *Engine) publish(u Update) {
	for _, fn := range e.subscribers {
		fn(u)
	}
}

// Snapshot returns a copy of the transcript in display order.
func (e *Engine) Snapshot() []Message {
	var out []Message
	e.applyWait(func() {
		out = make([]Message, len(e.messages))
		copy(out, e.messages)
	})
	return out
}

// Exhausted reports whether backward pagination hit the start of history.
func (e *Engine) Exhausted() bool {
	var v bool
	e.applyWait(func() { v = e.exhausted })
	return v
}

// ViewportState returns the current scroll model.
func (e *Engine) ViewportState() Viewport {
	var v Viewport
	e.applyWait(func() { v = e.viewport })
	return v
}

// LoadInitialHistory fetches the newest page and replaces the transcript.
// It runs at most once per engine; a failed fetch leaves existing state
// untouched and releases the guard for a retry.
func (e *Engine) LoadInitialHistory(ctx context.Context) error {
	if !e.initialLoaded.CompareAndSwap(false, true) {
		return nil
	}

	records, err := e.store.RecentMessages(ctx, e.projectID, e.pageSize)
	if err != nil {
		e.initialLoaded.Store(false)
		e.log.LogError(err, "initial history fetch failed")
		return err
	}

	page := reverseToAscending(records)
	short := len(records) < e.pageSize

	e.applyWait(func() {
		e.messages = page
		e.exhausted = short
		e.viewport.AtBottom = true
		e.viewport.ContentHeight = e.totalHeight()
		e.publish(Update{Kind: TranscriptReplaced, Messages: e.transcriptCopy(), Exhausted: e.exhausted})
		e.publish(Update{Kind: ScrolledToBottom})
	})
	return nil
}

// LoadOlder fetches the page strictly older than the current cursor (the
// oldest loaded message's timestamp) and prepends it, preserving the
// user's visual position. Once a short page arrives the exhausted flag is
// terminal and further calls are no-ops.
func (e *Engine) LoadOlder(ctx context.Context) error {
	var (
		cursor       time.Time
		skip         bool
		heightBefore int
	)
	e.applyWait(func() {
		if e.exhausted || e.loadingMore || len(e.messages) == 0 {
			skip = true
			return
		}
		e.loadingMore = true
		cursor = e.messages[0].CreatedAt
		heightBefore = e.totalHeight()
	})
	if skip {
		return nil
	}

	records, err := e.store.MessagesBefore(ctx, e.projectID, cursor, e.pageSize)
	if err != nil {
		e.applyWait(func() { e.loadingMore = false })
		e.log.LogError(err, "history page fetch failed", "cursor", cursor)
		return err
	}

	page := reverseToAscending(records)
	short := len(records) < e.pageSize

	e.applyWait(func() {
		e.loadingMore = false

		fresh := page[:0]
		for _, msg := range page {
			if e.indexOfKey(msg.ID.Key()) < 0 {
				fresh = append(fresh, msg)
			}
		}
		if len(fresh) > 0 {
			e.messages = append(fresh, e.messages...)
		}

		// Anchor compensation: the previously-topmost message keeps its
		// on-screen position by shifting the scroll offset by the height
		// the prepend added.
		heightAfter := e.totalHeight()
		e.viewport.CompensatePrepend(heightBefore, heightAfter)

		if short {
			e.exhausted = true
		}
		e.publish(Update{Kind: HistoryPrepended, Messages: e.transcriptCopy(), Exhausted: e.exhausted})
	})
	return nil
}

// HandleRemoteInsert processes one realtime insert notification: the full
// joined row is fetched, normalized and appended unless a message with
// that id (pending or confirmed) is already visible, which guards against
// echoing this client's own optimistic send.
func (e *Engine) HandleRemoteInsert(ctx context.Context, messageID string) {
	record, err := e.store.MessageByID(ctx, messageID)
	if err != nil {
		e.log.LogError(err, "realtime insert fetch failed", "message_id", messageID)
		return
	}
	msg := normalize(*record)

	e.apply(func() {
		if e.adoptEcho(msg) {
			return
		}
		if e.indexOfKey(msg.ID.Key()) >= 0 {
			return
		}
		e.messages = append(e.messages, msg)
		e.viewport.ContentHeight = e.totalHeight()
		e.publish(Update{Kind: MessageAppended, Message: &msg})
		if e.viewport.AtBottom {
			// Never force a jump while the user is reading history.
			e.publish(Update{Kind: ScrolledToBottom})
		}
	})
}

// adoptEcho reconciles a realtime insert that races this client's own
// in-flight send: a pending message from the same author with the same
// content is confirmed in place instead of appended a second time.
func (e *Engine) adoptEcho(incoming Message) bool {
	if incoming.AuthorID != e.self.ID {
		return false
	}
	for i := range e.messages {
		m := &e.messages[i]
		if !m.ID.Confirmed() && m.AuthorID == incoming.AuthorID && m.Content == incoming.Content {
			m.ID.Server = incoming.ID.Server
			m.CreatedAt = incoming.CreatedAt
			if m.Status == StatusSending {
				m.Status = StatusSent
			}
			patched := *m
			e.publish(Update{Kind: MessagePatched, Message: &patched})
			return true
		}
	}
	return false
}

// HandleProfileUpdate patches the denormalized author fields on every
// visible message from that author, in place, without reordering.
func (e *Engine) HandleProfileUpdate(author Author) {
	e.apply(func() {
		for i := range e.messages {
			if e.messages[i].AuthorID != author.ID {
				continue
			}
			e.messages[i].Author = author
			patched := e.messages[i]
			e.publish(Update{Kind: MessagePatched, Message: &patched})
		}
	})
}

// ObserveScroll folds a scroll measurement from the view into the
// viewport model.
func (e *Engine) ObserveScroll(scrollTop, contentHeight, clientHeight int) {
	e.apply(func() {
		e.viewport.Observe(scrollTop, contentHeight, clientHeight)
	})
}

// indexOfKey runs on the reducer goroutine.
func (e *Engine) indexOfKey(key string) int {
	for i := range e.messages {
		if e.messages[i].ID.Key() == key {
			return i
		}
	}
	return -1
}

// transcriptCopy runs on the reducer goroutine.
func (e *Engine) transcriptCopy() []Message {
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// totalHeight runs on the reducer goroutine.
func (e *Engine) totalHeight() int {
	total := 0
	for _, m := range e.messages {
		total += e.heightOf(m)
	}
	return total
}

// reverseToAscending converts a newest-first page into display order.
func reverseToAscending(records []Record) []Message {
	out := make([]Message, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, normalize(records[i]))
	}
	return out
}
