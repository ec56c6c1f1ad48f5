package changelog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/config"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
)

func newTestService(t *testing.T, repoURL string, proxy http.HandlerFunc, github http.HandlerFunc) *Service {
	t.Helper()

	storeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/v1/projects" {
			fmt.Fprintf(w, `{"github_repo_url":%q}`, repoURL)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(storeSrv.Close)

	cfg := &config.Config{}
	cfg.Store.URL = storeSrv.URL
	cfg.Store.AnonKey = "anon"
	cfg.Store.Timeout = 5 * time.Second
	cfg.GitHub.Timeout = 5 * time.Second

	if proxy != nil {
		proxySrv := httptest.NewServer(proxy)
		t.Cleanup(proxySrv.Close)
		cfg.GitHub.CommitProxyURL = proxySrv.URL
	}
	if github != nil {
		githubSrv := httptest.NewServer(github)
		t.Cleanup(githubSrv.Close)
		cfg.GitHub.APIBaseURL = githubSrv.URL
	}

	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	return NewService(store.New(cfg, log), cfg, log)
}

func TestCommitsPassesRepoAndToken(t *testing.T) {
	var gotRepo, gotToken string
	proxy := func(w http.ResponseWriter, r *http.Request) {
		gotRepo = r.URL.Query().Get("repoUrl")
		gotToken = r.URL.Query().Get("githubToken")
		fmt.Fprint(w, `[
			{"sha":"abc123","author":"alice","message":"fix bug","html_url":"https://github.com/x/y/commit/abc123"}
		]`)
	}
	svc := newTestService(t, "https://github.com/x/y", proxy, nil)

	commits, err := svc.Commits(context.Background(), "p1", "gh-token")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "abc123", commits[0].SHA)
	assert.Equal(t, "alice", commits[0].Author)
	assert.Equal(t, "https://github.com/x/y", gotRepo)
	assert.Equal(t, "gh-token", gotToken)
}

func TestCommitsWithoutLinkedRepo(t *testing.T) {
	svc := newTestService(t, "", nil, nil)

	commits, err := svc.Commits(context.Background(), "p1", "")
	require.NoError(t, err)
	assert.Empty(t, commits, "an unlinked project has an empty changelog, not an error")
}

func TestCommitsProxyFailure(t *testing.T) {
	proxy := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	svc := newTestService(t, "https://github.com/x/y", proxy, nil)

	_, err := svc.Commits(context.Background(), "p1", "")
	require.Error(t, err)
	assert.Equal(t, "REMOTE_STORE_ERROR", errors.FromError(err).Code)
}

func TestListRepositories(t *testing.T) {
	github := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[{"id":1,"name":"y","full_name":"x/y","html_url":"https://github.com/x/y","private":false}]`)
	}
	svc := newTestService(t, "", nil, github)

	repos, err := svc.ListRepositories(context.Background(), "gh-token")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "x/y", repos[0].FullName)
}

func TestListRepositoriesWithoutToken(t *testing.T) {
	svc := newTestService(t, "", nil, nil)

	_, err := svc.ListRepositories(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, "NO_GITHUB_TOKEN", errors.FromError(err).Code)
}

func TestListRepositoriesRejectedToken(t *testing.T) {
	github := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	svc := newTestService(t, "", nil, github)

	_, err := svc.ListRepositories(context.Background(), "stale")
	require.Error(t, err)
	assert.Equal(t, "GITHUB_TOKEN_INVALID", errors.FromError(err).Code)
}
