package tasks

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/config"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
)

type taskScript struct {
	mu        sync.Mutex
	tasks     map[string]Task
	mutations []string
}

func (s *taskScript) handler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/rest/v1/tasks" {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "[]")
		return
	}
	q := r.URL.Query()
	id := strings.TrimPrefix(q.Get("id"), "eq.")

	switch r.Method {
	case http.MethodGet:
		task, ok := s.tasks[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"no rows"}`)
			return
		}
		json.NewEncoder(w).Encode(task)

	case http.MethodPatch:
		s.mu.Lock()
		s.mutations = append(s.mutations, "PATCH "+id)
		s.mu.Unlock()
		task := s.tasks[id]
		task.Done = !task.Done
		s.tasks[id] = task
		json.NewEncoder(w).Encode([]Task{task})

	case http.MethodDelete:
		s.mu.Lock()
		s.mutations = append(s.mutations, "DELETE "+id)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *taskScript) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.mutations))
	copy(out, s.mutations)
	return out
}

func newTestService(t *testing.T, script *taskScript) *Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(script.handler))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Store.URL = srv.URL
	cfg.Store.AnonKey = "anon"
	cfg.Store.Timeout = 5 * time.Second
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	return NewService(store.New(cfg, log), log)
}

func TestToggleByAuthor(t *testing.T) {
	script := &taskScript{tasks: map[string]Task{
		"t1": {ID: "t1", ProjectID: "p1", UserID: "author", Content: "ship it"},
	}}
	svc := newTestService(t, script)

	task, err := svc.Toggle(context.Background(), "t1", "author")
	require.NoError(t, err)
	assert.True(t, task.Done)
	assert.Equal(t, []string{"PATCH t1"}, script.recorded())
}

func TestToggleByNonAuthorIsRefused(t *testing.T) {
	script := &taskScript{tasks: map[string]Task{
		"t1": {ID: "t1", ProjectID: "p1", UserID: "author", Content: "ship it"},
	}}
	svc := newTestService(t, script)

	_, err := svc.Toggle(context.Background(), "t1", "someone-else")
	require.Error(t, err)
	assert.Equal(t, "NOT_TASK_AUTHOR", errors.FromError(err).Code)
	assert.Empty(t, script.recorded(), "the mutation is skipped entirely")
}

func TestDeleteByNonAuthorIsRefused(t *testing.T) {
	script := &taskScript{tasks: map[string]Task{
		"t1": {ID: "t1", ProjectID: "p1", UserID: "author", Content: "ship it"},
	}}
	svc := newTestService(t, script)

	err := svc.Delete(context.Background(), "t1", "someone-else")
	require.Error(t, err)
	assert.Equal(t, "NOT_TASK_AUTHOR", errors.FromError(err).Code)
	assert.Empty(t, script.recorded())
}

func TestDeleteByAuthor(t *testing.T) {
	script := &taskScript{tasks: map[string]Task{
		"t1": {ID: "t1", ProjectID: "p1", UserID: "author", Content: "ship it"},
	}}
	svc := newTestService(t, script)

	require.NoError(t, svc.Delete(context.Background(), "t1", "author"))
	assert.Equal(t, []string{"DELETE t1"}, script.recorded())
}

func TestToggleMissingTask(t *testing.T) {
	script := &taskScript{tasks: map[string]Task{}}
	svc := newTestService(t, script)

	_, err := svc.Toggle(context.Background(), "ghost", "anyone")
	require.Error(t, err)
	assert.Equal(t, "TASK_NOT_FOUND", errors.FromError(err).Code)
}

func TestAddRequiresContent(t *testing.T) {
	script := &taskScript{tasks: map[string]Task{}}
	svc := newTestService(t, script)

	_, err := svc.Add(context.Background(), "p1", "author", "")
	require.Error(t, err)
	assert.Equal(t, "EMPTY_TASK", errors.FromError(err).Code)
}
