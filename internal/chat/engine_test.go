package chat

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devfusion/app/pkg/logger"
)

var testAuthor = Author{ID: "user-self", Username: "selfie", DisplayColor: "#ff0000"}

// fakeStore is an in-memory chat.Store with scripted failures.
type fakeStore struct {
	mu      sync.Mutex
	history []Record // ascending by CreatedAt
	nextID  int

	insertErr error
	uploadErr map[string]error
	onInsert  func(rec Record) // invoked before InsertMessage returns

	members []Author
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploadErr: map[string]error{}}
}

// seed appends count rows, continuing the id and timestamp sequence.
func (f *fakeStore) seed(count int, authorID string) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	username := strings.TrimPrefix(authorID, "user-")
	for i := 0; i < count; i++ {
		n := len(f.history) + 1
		f.history = append(f.history, Record{
			ID:        fmt.Sprintf("msg-%03d", n),
			UserID:    authorID,
			Content:   fmt.Sprintf("message %d", n),
			CreatedAt: base.Add(time.Duration(n-1) * time.Minute),
			User:      AuthorField{Author: Author{ID: authorID, Username: username}},
		})
	}
}

func (f *fakeStore) RecentMessages(_ context.Context, _ string, limit int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return descendingPage(f.history, time.Time{}, limit), nil
}

func (f *fakeStore) MessagesBefore(_ context.Context, _ string, cursor time.Time, limit int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return descendingPage(f.history, cursor, limit), nil
}

// descendingPage returns up to limit records strictly older than cursor
// (zero cursor means no bound), newest first.
func descendingPage(history []Record, cursor time.Time, limit int) []Record {
	var out []Record
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		if !cursor.IsZero() && !history[i].CreatedAt.Before(cursor) {
			continue
		}
		out = append(out, history[i])
	}
	return out
}

func (f *fakeStore) MessageByID(_ context.Context, id string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.history {
		if f.history[i].ID == id {
			rec := f.history[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("no row with id %s", id)
}

func (f *fakeStore) InsertMessage(_ context.Context, row NewMessageRow) (*Record, error) {
	f.mu.Lock()
	if f.insertErr != nil {
		err := f.insertErr
		f.mu.Unlock()
		return nil, err
	}
	f.nextID++
	rec := Record{
		ID:        fmt.Sprintf("srv-%03d", f.nextID),
		UserID:    row.UserID,
		Content:   row.Content,
		CreatedAt: time.Now().UTC(),
		User:      AuthorField{Author: testAuthor},
	}
	f.history = append(f.history, rec)
	onInsert := f.onInsert
	f.mu.Unlock()

	if onInsert != nil {
		onInsert(rec)
	}
	return &rec, nil
}

func (f *fakeStore) UploadAttachment(_ context.Context, messageID string, upload Upload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErr[upload.Filename]; err != nil {
		return "", err
	}
	return "https://cdn.example/" + messageID + "/" + upload.Filename, nil
}

func (f *fakeStore) SearchMembers(_ context.Context, _, prefix string, limit int) ([]Author, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Author
	for _, m := range f.members {
		if strings.HasPrefix(strings.ToLower(m.Username), strings.ToLower(prefix)) && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T, f *fakeStore, opts Options) *Engine {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	e := NewEngine(f, testAuthor, "project-1", opts, log)
	t.Cleanup(e.Close)
	return e
}

func assertAscendingNoDups(t *testing.T, msgs []Message) {
	t.Helper()
	assert.True(t, sort.SliceIsSorted(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	}), "transcript must be ascending by creation time")

	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		key := m.ID.Key()
		assert.False(t, seen[key], "duplicate id %s", key)
		seen[key] = true
	}
}

func TestHistoryPagination(t *testing.T) {
	f := newFakeStore()
	f.seed(45, "user-alice")
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()

	require.NoError(t, e.LoadInitialHistory(ctx))
	msgs := e.Snapshot()
	require.Len(t, msgs, 20)
	assert.Equal(t, "msg-026", msgs[0].ID.Server)
	assert.Equal(t, "msg-045", msgs[19].ID.Server)
	assertAscendingNoDups(t, msgs)
	assert.False(t, e.Exhausted())

	require.NoError(t, e.LoadOlder(ctx))
	msgs = e.Snapshot()
	require.Len(t, msgs, 40)
	assert.Equal(t, "msg-006", msgs[0].ID.Server)
	assertAscendingNoDups(t, msgs)
	assert.False(t, e.Exhausted())

	require.NoError(t, e.LoadOlder(ctx))
	msgs = e.Snapshot()
	require.Len(t, msgs, 45)
	assert.Equal(t, "msg-001", msgs[0].ID.Server)
	assertAscendingNoDups(t, msgs)
	assert.True(t, e.Exhausted(), "short page must set the terminal exhausted flag")

	// Exhausted: further calls are no-ops returning the same transcript.
	require.NoError(t, e.LoadOlder(ctx))
	assert.Len(t, e.Snapshot(), 45)
	assert.True(t, e.Exhausted())
}

func TestInitialHistoryRunsOnce(t *testing.T) {
	f := newFakeStore()
	f.seed(5, "user-alice")
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()

	require.NoError(t, e.LoadInitialHistory(ctx))
	f.seed(1, "user-bob") // would change the page if refetched

	require.NoError(t, e.LoadInitialHistory(ctx))
	assert.Len(t, e.Snapshot(), 5)
}

func TestInitialHistoryShortPageSetsExhausted(t *testing.T) {
	f := newFakeStore()
	f.seed(3, "user-alice")
	e := newTestEngine(t, f, Options{PageSize: 20})

	require.NoError(t, e.LoadInitialHistory(context.Background()))
	assert.True(t, e.Exhausted())
}

func TestOptimisticSendSwapsTemporaryID(t *testing.T) {
	f := newFakeStore()
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()

	uploads := []Upload{
		{Filename: "a.png", MimeType: "image/png", Content: strings.NewReader("a")},
		{Filename: "b.pdf", MimeType: "application/pdf", Content: strings.NewReader("b")},
	}
	require.NoError(t, e.Send(ctx, "here you go", uploads))

	msgs := e.Snapshot()
	require.Len(t, msgs, 1, "exactly one entry survives the id swap")
	msg := msgs[0]
	assert.True(t, msg.ID.Confirmed())
	assert.Equal(t, "srv-001", msg.ID.Server)
	assert.NotEmpty(t, msg.ID.Correlation, "correlation id is stable across the swap")
	assert.Equal(t, StatusSent, msg.Status)

	require.Len(t, msg.Attachments, 2)
	for _, att := range msg.Attachments {
		assert.Equal(t, UploadDone, att.Status)
		assert.NotEmpty(t, att.URL)
	}
}

func TestSendInsertFailureMarksMessageFailed(t *testing.T) {
	f := newFakeStore()
	f.insertErr = fmt.Errorf("boom")
	e := newTestEngine(t, f, Options{PageSize: 20})

	uploads := []Upload{{Filename: "a.png", MimeType: "image/png", Content: strings.NewReader("a")}}
	err := e.Send(context.Background(), "doomed", uploads)
	require.Error(t, err)

	msgs := e.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, StatusFailed, msgs[0].Status)
	assert.False(t, msgs[0].ID.Confirmed())
	for _, att := range msgs[0].Attachments {
		assert.Equal(t, UploadFailed, att.Status, "no upload is attempted after a failed insert")
	}
}

func TestAttachmentFailureDoesNotAffectParent(t *testing.T) {
	f := newFakeStore()
	f.uploadErr["bad.bin"] = fmt.Errorf("upload refused")
	e := newTestEngine(t, f, Options{PageSize: 20})

	uploads := []Upload{
		{Filename: "good.png", MimeType: "image/png", Content: strings.NewReader("g")},
		{Filename: "bad.bin", MimeType: "application/octet-stream", Content: strings.NewReader("b")},
	}
	require.NoError(t, e.Send(context.Background(), "mixed", uploads))

	msgs := e.Snapshot()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, StatusSent, msg.Status, "a failed attachment never demotes a sent message")

	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, UploadDone, msg.Attachments[0].Status)
	assert.NotEmpty(t, msg.Attachments[0].URL)
	assert.Equal(t, UploadFailed, msg.Attachments[1].Status)
	assert.Empty(t, msg.Attachments[1].URL)
}

func TestSendEmptyIsNoOp(t *testing.T) {
	f := newFakeStore()
	e := newTestEngine(t, f, Options{PageSize: 20})

	require.NoError(t, e.Send(context.Background(), "   \n  ", nil))
	assert.Empty(t, e.Snapshot())
	assert.Empty(t, f.history)
}

func TestTextOnlySendPersistsWithoutPlaceholder(t *testing.T) {
	f := newFakeStore()
	e := newTestEngine(t, f, Options{PageSize: 20})

	require.NoError(t, e.Send(context.Background(), "plain text", nil))
	// No optimistic entry; the transcript fills in via the insert stream.
	assert.Empty(t, e.Snapshot())
	require.Len(t, f.history, 1)
	assert.Equal(t, "plain text", f.history[0].Content)
}

func TestRemoteInsertAppendsNewMessage(t *testing.T) {
	f := newFakeStore()
	f.seed(2, "user-alice")
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()
	require.NoError(t, e.LoadInitialHistory(ctx))

	f.seed(1, "user-bob")
	e.HandleRemoteInsert(ctx, "msg-003")

	msgs := e.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-003", msgs[2].ID.Server)
	assertAscendingNoDups(t, msgs)
}

func TestRemoteInsertDeduplicatesByID(t *testing.T) {
	f := newFakeStore()
	f.seed(3, "user-alice")
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()
	require.NoError(t, e.LoadInitialHistory(ctx))

	e.HandleRemoteInsert(ctx, "msg-002")
	assert.Len(t, e.Snapshot(), 3, "an already-visible id must not duplicate")
}

func TestRemoteEchoAdoptsInFlightSend(t *testing.T) {
	f := newFakeStore()
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()

	// The echo notification lands before Send learns the server id.
	f.onInsert = func(rec Record) {
		e.HandleRemoteInsert(ctx, rec.ID)
	}

	uploads := []Upload{{Filename: "a.png", MimeType: "image/png", Content: strings.NewReader("a")}}
	require.NoError(t, e.Send(ctx, "racy", uploads))

	msgs := e.Snapshot()
	require.Len(t, msgs, 1, "the echo must reconcile with the pending message, not duplicate it")
	assert.Equal(t, "srv-001", msgs[0].ID.Server)
	assert.Equal(t, StatusSent, msgs[0].Status)
}

func TestProfileUpdatePatchesOnlyMatchingAuthor(t *testing.T) {
	f := newFakeStore()
	f.seed(2, "user-alice")
	f.history = append(f.history, Record{
		ID:        "msg-bob",
		UserID:    "user-bob",
		Content:   "hi",
		CreatedAt: f.history[1].CreatedAt.Add(time.Minute),
		User:      AuthorField{Author: Author{ID: "user-bob", Username: "bob"}},
	})
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()
	require.NoError(t, e.LoadInitialHistory(ctx))

	before := e.Snapshot()
	e.HandleProfileUpdate(Author{ID: "user-alice", Username: "alice2", AvatarURL: "new.png", DisplayColor: "#00ff00"})

	after := e.Snapshot()
	require.Len(t, after, 3)
	for i, m := range after {
		assert.Equal(t, before[i].ID, m.ID, "patching never reorders")
		if m.AuthorID == "user-alice" {
			assert.Equal(t, "alice2", m.Author.Username)
			assert.Equal(t, "new.png", m.Author.AvatarURL)
		} else {
			assert.Equal(t, "bob", m.Author.Username)
		}
	}
}

func TestScrollAnchorPreservedAcrossPrepend(t *testing.T) {
	f := newFakeStore()
	f.seed(45, "user-alice")
	e := newTestEngine(t, f, Options{
		PageSize: 20,
		HeightOf: func(Message) int { return 10 },
	})
	ctx := context.Background()
	require.NoError(t, e.LoadInitialHistory(ctx))

	// Scrolled to the very top, reading the oldest loaded message.
	e.ObserveScroll(0, 200, 100)

	require.NoError(t, e.LoadOlder(ctx))
	vp := e.ViewportState()
	assert.Equal(t, 400, vp.ContentHeight)
	assert.Equal(t, 200, vp.ScrollTop, "the prepended height keeps the anchor message stationary")
}

func TestRemoteInsertAutoScrollsOnlyAtBottom(t *testing.T) {
	f := newFakeStore()
	f.seed(20, "user-alice")
	e := newTestEngine(t, f, Options{PageSize: 20, HeightOf: func(Message) int { return 10 }})
	ctx := context.Background()
	require.NoError(t, e.LoadInitialHistory(ctx))

	var mu sync.Mutex
	var scrolls int
	unsubscribe := e.Subscribe(func(u Update) {
		if u.Kind == ScrolledToBottom {
			mu.Lock()
			scrolls++
			mu.Unlock()
		}
	})
	defer unsubscribe()

	// Reading history: no forced jump.
	e.ObserveScroll(0, 200, 100)
	f.seed(1, "user-bob")
	e.HandleRemoteInsert(ctx, "msg-021")
	e.Snapshot() // barrier
	mu.Lock()
	assert.Equal(t, 0, scrolls)
	mu.Unlock()

	// Back at the bottom: the next insert auto-scrolls.
	e.ObserveScroll(110, 210, 100)
	f.seed(1, "user-bob")
	e.HandleRemoteInsert(ctx, "msg-022")
	e.Snapshot()
	mu.Lock()
	assert.Equal(t, 1, scrolls)
	mu.Unlock()
}

func TestApplyAfterCloseIsDiscarded(t *testing.T) {
	f := newFakeStore()
	f.seed(3, "user-alice")
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()
	require.NoError(t, e.LoadInitialHistory(ctx))

	e.Close()
	f.seed(1, "user-bob")
	// Late notifications after teardown must not touch state or block.
	e.HandleRemoteInsert(ctx, "msg-004")
	e.HandleProfileUpdate(Author{ID: "user-alice", Username: "late"})
}

func TestCodeHeuristic(t *testing.T) {
	tests := []struct {
		name string
		text string
		code bool
	}{
		{"single line with brace", "const x = {}", false},
		{"multi-line with brace", "if (x) {\n  y()\n}", true},
		{"multi-line with keyword", "def main():\n    pass", true},
		{"multi-line prose", "hello there\nhow are you", false},
		{"multi-line with semicolon", "a = 1;\nb = 2;", true},
		{"plain greeting", "hello", false},
		{"include directive", "#include <stdio.h>\nint main() {}", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, isProbablyCode(tt.text))
		})
	}
}

func TestFormatOutgoingWrapsCode(t *testing.T) {
	wrapped := formatOutgoing("function f() {\n  return 1\n}")
	assert.True(t, strings.HasPrefix(wrapped, "```\n"))
	assert.True(t, strings.HasSuffix(wrapped, "\n```"))

	assert.Equal(t, "just words", formatOutgoing("  just words  "))
	assert.Equal(t, "", formatOutgoing("   "))
}

func TestHistoryUpdatesCarryTranscript(t *testing.T) {
	f := newFakeStore()
	f.seed(45, "user-alice")
	e := newTestEngine(t, f, Options{PageSize: 20})
	ctx := context.Background()

	// Subscribers run on the reducer goroutine: everything they need must
	// arrive on the update itself, and a pagination triggered while one is
	// attached must still complete.
	type observed struct {
		kind      UpdateKind
		count     int
		exhausted bool
	}
	var mu sync.Mutex
	var seen []observed
	e.Subscribe(func(u Update) {
		mu.Lock()
		seen = append(seen, observed{kind: u.Kind, count: len(u.Messages), exhausted: u.Exhausted})
		mu.Unlock()
	})

	done := make(chan error, 2)
	go func() {
		if err := e.LoadInitialHistory(ctx); err != nil {
			done <- err
			return
		}
		done <- nil
		done <- e.LoadOlder(ctx)
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("pagination did not complete with a subscriber attached")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	var replaced, prepended *observed
	for i := range seen {
		switch seen[i].kind {
		case TranscriptReplaced:
			replaced = &seen[i]
		case HistoryPrepended:
			prepended = &seen[i]
		}
	}
	require.NotNil(t, replaced)
	assert.Equal(t, 20, replaced.count)
	assert.False(t, replaced.exhausted)
	require.NotNil(t, prepended)
	assert.Equal(t, 40, prepended.count)
	assert.False(t, prepended.exhausted)
}
