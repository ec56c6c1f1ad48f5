// Package store is the client for the hosted remote data store the
// application is a thin shell over. It wraps four surfaces: relational
// queries (From/Query), realtime change notifications (Realtime), blob
// storage (Storage) and session authentication (Auth). The store is the
// single source of truth; nothing is cached locally.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"devfusion/app/pkg/config"
	"devfusion/app/pkg/logger"
)

// Client talks to the remote store over HTTPS/JSON.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger

	Auth     *Auth
	Storage  *Storage
	Realtime *Realtime
}

// New creates a store client from configuration.
func New(cfg *config.Config, log *logger.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(cfg.Store.URL, "/"),
		apiKey:  cfg.Store.AnonKey,
		http:    &http.Client{Timeout: cfg.Store.Timeout},
		log:     log,
	}
	c.Auth = newAuth(c)
	c.Storage = &Storage{c: c}
	c.Realtime = newRealtime(cfg.Store.RealtimeURL, cfg.Store.AnonKey, log)
	return c
}

// Error is a failed remote store call. Callers surface these as inline
// notices; they never crash a view.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s (status %d)", e.Message, e.StatusCode)
}

// ErrEmptyRepresentation is returned when an insert asked for the stored
// representation back and the store returned no rows.
var ErrEmptyRepresentation = &Error{
	StatusCode: http.StatusBadGateway,
	Message:    "insert returned no representation",
}

// IsNotFound reports whether err is a store error for a missing row.
func IsNotFound(err error) bool {
	se, ok := err.(*Error)
	return ok && se.StatusCode == http.StatusNotFound
}

// From begins a query against a named collection.
func (c *Client) From(table string) *Query {
	return newQuery(c, table)
}

// RPC invokes a named stored procedure on the store.
func (c *Client) RPC(ctx context.Context, fn string, params any, dest any) error {
	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, params, dest)
}

// do performs a JSON request against the store, attaching the API key and,
// when a session is active, its bearer token.
func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("store request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("store call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// bearerToken returns the active session token, falling back to the anon key.
func (c *Client) bearerToken() string {
	if c.Auth != nil {
		if s := c.Auth.GetSession(); s != nil {
			return s.AccessToken
		}
	}
	return c.apiKey
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &payload)

	msg := payload.Message
	if msg == "" {
		msg = payload.Msg
	}
	if msg == "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{StatusCode: resp.StatusCode, Message: msg}
}
