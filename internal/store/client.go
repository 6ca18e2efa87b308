// Package store is the HTTP client for the session store backend, which
// owns sessions and runs generation/refinement jobs. Job completion is not
// reported on these calls; it arrives later through the relay.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codecowboy/cowboy/internal/auth"
)

// Sentinel errors callers can test with errors.Is.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthorized    = errors.New("unauthorized")
)

// RejectionError is a non-success response body from the backend. The
// message is surfaced verbatim to the user.
type RejectionError struct {
	Op      string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected by backend: %s", e.Op, e.Message)
}

// Submission is the ticket returned by a successful Generate or Refine
// call. The relay subscription for the job's completion is opened against
// this ticket, so submission always precedes subscription.
type Submission struct {
	SessionID  string
	Refinement bool
	AcceptedAt time.Time
}

// Client talks to the session store REST API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithTokenSource attaches bearer credentials to every request.
func WithTokenSource(ts auth.TokenSource) Option {
	return func(client *Client) {
		client.tokens = ts
	}
}

// New creates a session store client.
// baseURL includes the API prefix (e.g. "http://localhost:8000/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the backend's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// do runs one request and decodes the response envelope, mapping transport
// and status failures to wrapped errors.
func (c *Client) do(ctx context.Context, op, method, path string, reqBody interface{}) (*envelope, error) {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		header, err := c.tokens.Authorization()
		if err != nil {
			return nil, fmt.Errorf("%s: credentials: %w", op, err)
		}
		req.Header.Set("Authorization", header)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if c.tokens != nil {
			c.tokens.Invalidate()
		}
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(raw))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	if !env.Success {
		return nil, &RejectionError{Op: op, Message: env.Message}
	}
	return &env, nil
}

// CreateSession creates a new session with the given display name.
func (c *Client) CreateSession(ctx context.Context, name string) (*Session, error) {
	env, err := c.do(ctx, "create session", http.MethodPost, "/sessions",
		map[string]string{"name": name})
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return nil, fmt.Errorf("create session: decode session: %w", err)
	}
	return &s, nil
}

// GetSession fetches the full state of one session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	env, err := c.do(ctx, "get session", http.MethodGet, "/sessions/"+sessionID, nil)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return nil, fmt.Errorf("get session: decode session: %w", err)
	}
	return &s, nil
}

// ListSessions returns all sessions, most recent first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	env, err := c.do(ctx, "list sessions", http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := json.Unmarshal(env.Data, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: decode: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session from the store.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, "delete session", http.MethodDelete, "/sessions/"+sessionID, nil)
	return err
}

// PostMessage appends a message to a session's conversation.
func (c *Client) PostMessage(ctx context.Context, sessionID string, msg Message) error {
	_, err := c.do(ctx, "post message", http.MethodPost,
		"/sessions/"+sessionID+"/messages", msg)
	return err
}

// Generate submits a generation job. The returned ticket marks the job as
// accepted; its result arrives later through the relay.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	_, err := c.do(ctx, "generate", http.MethodPost,
		"/sessions/"+req.SessionID+"/generate", req)
	if err != nil {
		return nil, err
	}
	return &Submission{SessionID: req.SessionID, AcceptedAt: time.Now()}, nil
}

// Refine submits a refinement job against an existing candidate.
func (c *Client) Refine(ctx context.Context, req RefinementRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("refine: %w", err)
	}

	_, err := c.do(ctx, "refine", http.MethodPost,
		"/sessions/"+req.SessionID+"/refine", req)
	if err != nil {
		return nil, err
	}
	return &Submission{SessionID: req.SessionID, Refinement: true, AcceptedAt: time.Now()}, nil
}
