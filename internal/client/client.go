// Package client is the typed HTTP client for the workspaced backend. It
// mirrors the backend and auth-session contracts and maps HTTP statuses
// onto the shared error taxonomy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Workspace is the wire shape of a workspace as returned by the backend.
type Workspace struct {
	ID              string `json:"id"`
	OwnerID         string `json:"ownerId"`
	Name            string `json:"name"`
	Data            any    `json:"data"`
	BaseData        any    `json:"baseData"`
	DocVersion      int64  `json:"docVersion"`
	EventVersion    int64  `json:"eventVersion"`
	MaxEventVersion int64  `json:"maxEventVersion"`
}

// WorkspaceSummary is the list-view projection.
type WorkspaceSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DocVersion int64  `json:"docVersion"`
}

// UpdateResult reports an update outcome.
type UpdateResult struct {
	Success    bool  `json:"success"`
	NoChanges  bool  `json:"noChanges"`
	DocVersion int64 `json:"docVersion"`
}

// StepResult reports an undo/redo outcome.
type StepResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Data            any    `json:"data"`
	PreviousVersion int64  `json:"previousVersion"`
	CurrentVersion  int64  `json:"currentVersion"`
	DocVersion      int64  `json:"docVersion"`
}

// Session is the wire shape of a handshake session status.
type Session struct {
	Status    string `json:"status"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// TokenGrant is the response of login and refresh.
type TokenGrant struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   string `json:"expiresAt"`
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
}

// Client talks to one workspaced endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. The token may be empty for unauthenticated calls
// (session registration and polling).
func New(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken replaces the bearer token, e.g. after a refresh.
func (c *Client) SetToken(token string) { c.token = token }

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// Create creates a workspace and returns it.
func (c *Client) Create(ctx context.Context, name string, data any) (*Workspace, error) {
	var ws Workspace
	err := c.do(ctx, http.MethodPost, "/v1/workspaces", map[string]any{"name": name, "data": data}, &ws)
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// Get fetches a workspace; (nil, nil) when it does not exist or is not
// visible to the caller.
func (c *Client) Get(ctx context.Context, id string) (*Workspace, error) {
	var ws Workspace
	err := c.do(ctx, http.MethodGet, "/v1/workspaces/"+id, nil, &ws)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &ws, nil
}

// List returns the caller's workspace summaries.
func (c *Client) List(ctx context.Context) ([]WorkspaceSummary, error) {
	var resp struct {
		Workspaces []WorkspaceSummary `json:"workspaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/workspaces", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workspaces, nil
}

// Update pushes a new document state guarded by expectedDocVersion.
func (c *Client) Update(ctx context.Context, id string, data any, expectedDocVersion int64) (*UpdateResult, error) {
	var res UpdateResult
	err := c.do(ctx, http.MethodPut, "/v1/workspaces/"+id, map[string]any{
		"data":               data,
		"expectedDocVersion": expectedDocVersion,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Undo steps the workspace back one event.
func (c *Client) Undo(ctx context.Context, id string) (*StepResult, error) {
	var res StepResult
	if err := c.do(ctx, http.MethodPost, "/v1/workspaces/"+id+"/undo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Redo steps the workspace forward one event.
func (c *Client) Redo(ctx context.Context, id string) (*StepResult, error) {
	var res StepResult
	if err := c.do(ctx, http.MethodPost, "/v1/workspaces/"+id+"/redo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateSession registers a pending handshake session.
func (c *Client) CreateSession(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, "/v1/auth/sessions", map[string]any{"code": code}, nil)
}

// GetSession polls a handshake session's status.
func (c *Client) GetSession(ctx context.Context, code string) (*Session, error) {
	var sess Session
	if err := c.do(ctx, http.MethodGet, "/v1/auth/sessions/"+code, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Refresh exchanges the current token for a fresh one.
func (c *Client) Refresh(ctx context.Context) (*TokenGrant, error) {
	var grant TokenGrant
	if err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorFromResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
