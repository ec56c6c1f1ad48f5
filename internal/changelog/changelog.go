// Package changelog is the read-only commit viewer: it resolves a
// project's linked repository and lists its commits through the commit
// proxy, plus the GitHub repository listing the project-add flow uses.
package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/config"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
)

// Commit is one entry in a project's changelog.
type Commit struct {
	SHA     string    `json:"sha"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
	HTMLURL string    `json:"html_url"`
}

// Repository is one GitHub repository visible to an OAuth token.
type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	Private  bool   `json:"private"`
}

// Service fetches changelog data. The commit proxy and the GitHub API are
// external read-only collaborators; no retries.
type Service struct {
	client    *store.Client
	http      *http.Client
	proxyURL  string
	githubAPI string
	log       *logger.Logger
}

func NewService(client *store.Client, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{
		client:    client,
		http:      &http.Client{Timeout: cfg.GitHub.Timeout},
		proxyURL:  cfg.GitHub.CommitProxyURL,
		githubAPI: cfg.GitHub.APIBaseURL,
		log:       log,
	}
}

// RepoURL resolves the project's linked repository URL. Empty means no
// repository has been linked yet.
func (s *Service) RepoURL(ctx context.Context, projectID string) (string, error) {
	var project struct {
		GithubRepoURL string `json:"github_repo_url"`
	}
	err := s.client.From("projects").
		Select("github_repo_url").
		Eq("id", projectID).
		Single().
		Get(ctx, &project)
	if err != nil {
		if store.IsNotFound(err) {
			return "", errors.NewNotFoundError("PROJECT_NOT_FOUND", "project not found")
		}
		return "", errors.NewRemoteStoreError("fetching project repository", err)
	}
	return project.GithubRepoURL, nil
}

// Commits lists the linked repository's commits through the commit proxy.
// githubToken may be empty for public repositories.
func (s *Service) Commits(ctx context.Context, projectID, githubToken string) ([]Commit, error) {
	repoURL, err := s.RepoURL(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if repoURL == "" {
		return []Commit{}, nil
	}

	params := url.Values{}
	params.Set("repoUrl", repoURL)
	if githubToken != "" {
		params.Set("githubToken", githubToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.proxyURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.NewRemoteStoreError("fetching commits", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.log.Warn("commit proxy error",
			"status", resp.StatusCode,
			"body", strings.TrimSpace(string(body)),
		)
		return nil, errors.NewRemoteStoreError(
			fmt.Sprintf("commit proxy returned status %d", resp.StatusCode), nil)
	}

	var commits []Commit
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return nil, errors.NewRemoteStoreError("decoding commits", err)
	}
	return commits, nil
}

// ListRepositories lists the repositories visible to a GitHub OAuth
// token, newest-updated first.
func (s *Service) ListRepositories(ctx context.Context, githubToken string) ([]Repository, error) {
	if githubToken == "" {
		return nil, errors.NewBadRequestError("NO_GITHUB_TOKEN", "no GitHub account connected")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.githubAPI+"/user/repos?sort=updated&per_page=100", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+githubToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.NewRemoteStoreError("listing repositories", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errors.NewUnauthorizedError("GITHUB_TOKEN_INVALID", "GitHub token rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewRemoteStoreError(
			fmt.Sprintf("GitHub API returned status %d", resp.StatusCode), nil)
	}

	var repos []Repository
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, errors.NewRemoteStoreError("decoding repositories", err)
	}
	return repos, nil
}
