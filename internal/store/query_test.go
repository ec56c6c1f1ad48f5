package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devfusion/app/pkg/config"
	"devfusion/app/pkg/logger"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

func newTestClient(t *testing.T, status int, response string) (*Client, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.Query = r.URL.RawQuery
		captured.Header = r.Header.Clone()
		captured.Body = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Store.URL = srv.URL
	cfg.Store.AnonKey = "anon-key"
	cfg.Store.Timeout = 5 * time.Second
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	return New(cfg, log), captured
}

func TestQueryFilterComposition(t *testing.T) {
	client, captured := newTestClient(t, http.StatusOK, "[]")

	var dest []map[string]any
	err := client.From("chat_messages").
		Select(`
			id, content,
			user:user_id (username)
		`).
		Eq("project_id", "p1").
		Lt("created_at", "2026-03-01T12:00:00Z").
		Order("created_at", false).
		Limit(20).
		Get(context.Background(), &dest)
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, captured.Method)
	assert.Equal(t, "/rest/v1/chat_messages", captured.Path)
	assert.Contains(t, captured.Query, "project_id=eq.p1")
	assert.Contains(t, captured.Query, "created_at=lt.2026-03-01T12%3A00%3A00Z")
	assert.Contains(t, captured.Query, "order=created_at.desc")
	assert.Contains(t, captured.Query, "limit=20")
	// Projections collapse so embedded joins survive URL encoding.
	assert.Contains(t, captured.Query, "select=id%2Ccontent%2Cuser%3Auser_id%28username%29")
}

func TestQueryInAndOrFilters(t *testing.T) {
	client, captured := newTestClient(t, http.StatusOK, "[]")

	var dest []map[string]any
	err := client.From("projects").
		In("id", []string{"a", "b", "c"}).
		Get(context.Background(), &dest)
	require.NoError(t, err)
	assert.Contains(t, captured.Query, "id=in.%28a%2Cb%2Cc%29")

	err = client.From("users").
		Or("username.ilike.%dev%,email.ilike.%dev%").
		Get(context.Background(), &dest)
	require.NoError(t, err)
	assert.Contains(t, captured.Query, "or=%28username.ilike.%25dev%25%2Cemail.ilike.%25dev%25%29")
}

func TestSingleSetsAcceptHeader(t *testing.T) {
	client, captured := newTestClient(t, http.StatusOK, `{"id":"u1"}`)

	var dest map[string]any
	err := client.From("users").
		Eq("id", "u1").
		Single().
		Get(context.Background(), &dest)
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.pgrst.object+json", captured.Header.Get("Accept"))
	assert.Equal(t, "u1", dest["id"])
}

func TestInsertAsksForRepresentationWhenDecoding(t *testing.T) {
	client, captured := newTestClient(t, http.StatusCreated, `[{"id":"t1"}]`)

	var dest []map[string]any
	err := client.From("tasks").Insert(context.Background(), map[string]string{"content": "x"}, &dest)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "return=representation", captured.Header.Get("Prefer"))
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(captured.Body), &body))
	assert.Equal(t, "x", body["content"])
}

func TestInsertWithoutDestSkipsRepresentation(t *testing.T) {
	client, captured := newTestClient(t, http.StatusCreated, "")

	err := client.From("tasks").Insert(context.Background(), map[string]string{"content": "y"}, nil)
	require.NoError(t, err)
	assert.Empty(t, captured.Header.Get("Prefer"))
}

func TestAnonKeyUsedWithoutSession(t *testing.T) {
	client, captured := newTestClient(t, http.StatusOK, "[]")

	var dest []map[string]any
	require.NoError(t, client.From("projects").Get(context.Background(), &dest))
	assert.Equal(t, "anon-key", captured.Header.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", captured.Header.Get("Authorization"))
}

func TestSessionTokenPreferredOverAnonKey(t *testing.T) {
	client, captured := newTestClient(t, http.StatusOK, "[]")
	client.Auth.RestoreSession(&Session{AccessToken: "session-token", User: AuthUser{ID: "u1"}})

	var dest []map[string]any
	require.NoError(t, client.From("projects").Get(context.Background(), &dest))
	assert.Equal(t, "Bearer session-token", captured.Header.Get("Authorization"))
}

func TestErrorDecoding(t *testing.T) {
	client, _ := newTestClient(t, http.StatusNotFound, `{"message":"row not found"}`)

	var dest map[string]any
	err := client.From("projects").Eq("id", "nope").Single().Get(context.Background(), &dest)
	require.Error(t, err)

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, http.StatusNotFound, storeErr.StatusCode)
	assert.Equal(t, "row not found", storeErr.Message)
	assert.True(t, IsNotFound(err))
}

func TestDeleteSendsFilters(t *testing.T) {
	client, captured := newTestClient(t, http.StatusNoContent, "")

	err := client.From("project_members").
		Eq("project_id", "p1").
		Eq("user_id", "u1").
		Delete(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodDelete, captured.Method)
	assert.Contains(t, captured.Query, "project_id=eq.p1")
	assert.Contains(t, captured.Query, "user_id=eq.u1")
}
