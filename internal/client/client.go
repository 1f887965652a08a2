package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paneldeck.org/internal/auth"
)

// Client is the SDK entry point: credential operations, a session-aware
// request pipeline and a navigation guard over one shared session store.
type Client struct {
	baseURL    string
	httpClient *http.Client

	store        *SessionStore
	coordinator  *Coordinator
	pipeline     *Pipeline
	guard        *Guard
	onSessionEnd func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithStorage persists the session across restarts.
func WithStorage(storage Storage) Option {
	return func(c *Client) {
		c.store = NewSessionStore(storage)
	}
}

// WithOnSessionEnd installs a hook fired whenever the session is torn down
// by the pipeline or coordinator (not by an explicit Logout).
func WithOnSessionEnd(fn func()) Option {
	return func(c *Client) {
		if fn != nil {
			c.onSessionEnd = fn
		}
	}
}

// New constructs a Client against the given API base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      NewSessionStore(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.coordinator = NewCoordinator(c.store, c.refreshExchange, c.onSessionEnd)
	c.pipeline = NewPipeline(c.httpClient, c.store, c.coordinator, c.onSessionEnd)
	c.guard = NewGuard(c.store)
	return c, nil
}

// Store exposes the session store (for guards, UI state, tests).
func (c *Client) Store() *SessionStore { return c.store }

// Guard exposes the navigation guard.
func (c *Client) Guard() *Guard { return c.guard }

// Hydrate restores a persisted session, if storage holds one.
func (c *Client) Hydrate() error { return c.store.Hydrate() }

type sessionPayload struct {
	User        *auth.User     `json:"user"`
	Permissions []string       `json:"permissions"`
	Tokens      auth.TokenPair `json:"tokens"`
}

// Register creates an account and starts a session.
func (c *Client) Register(ctx context.Context, username, password, displayName string) (Session, error) {
	return c.startSession(ctx, "/v1/auth/register", map[string]any{
		"username":     username,
		"password":     password,
		"display_name": displayName,
	})
}

// Login authenticates and starts a session.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	return c.startSession(ctx, "/v1/auth/login", map[string]any{
		"username": username,
		"password": password,
	})
}

func (c *Client) startSession(ctx context.Context, path string, body map[string]any) (Session, error) {
	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return Session{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, parseAPIError(resp)
	}
	defer resp.Body.Close()
	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Session{}, fmt.Errorf("client: decode session: %w", err)
	}
	sess := Session{
		User:        payload.User,
		Permissions: payload.Permissions,
		Tokens:      payload.Tokens,
	}
	c.store.Set(sess)
	return sess, nil
}

// Logout revokes the refresh token server-side and clears the session. The
// local session is cleared even if the server call fails; the refresh token
// then dies on its own expiry.
func (c *Client) Logout(ctx context.Context) error {
	sess, _, ok := c.store.Current()
	c.store.Clear()
	if !ok || sess.Tokens.RefreshToken == "" {
		return nil
	}
	resp, err := c.Do(ctx, http.MethodPost, "/v1/auth/logout", map[string]any{
		"refresh_token": sess.Tokens.RefreshToken,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp)
	}
	return nil
}

// WhoAmI fetches the server's view of the session and refreshes the local
// permission snapshot.
func (c *Client) WhoAmI(ctx context.Context) (Session, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/v1/auth/me", nil)
	if err != nil {
		return Session{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, parseAPIError(resp)
	}
	defer resp.Body.Close()
	var payload struct {
		User        *auth.User `json:"user"`
		Permissions []string   `json:"permissions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Session{}, fmt.Errorf("client: decode me: %w", err)
	}
	sess, epoch, ok := c.store.Current()
	if !ok {
		return Session{}, ErrNoSession
	}
	sess.User = payload.User
	sess.Permissions = payload.Permissions
	// Re-set only if nothing changed underneath; a racing logout wins.
	if _, e2, ok2 := c.store.Current(); ok2 && e2 == epoch {
		c.store.Set(sess)
	}
	return sess, nil
}

// Do issues a JSON request through the pipeline. The caller owns the
// response body.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.pipeline.Do(req)
}

// refreshExchange is the raw refresh call used by the coordinator.
func (c *Client) refreshExchange(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	data, err := json.Marshal(map[string]any{"refresh_token": refreshToken})
	if err != nil {
		return auth.TokenPair{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/refresh", bytes.NewReader(data))
	if err != nil {
		return auth.TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return auth.TokenPair{}, parseAPIError(resp)
	}
	defer resp.Body.Close()
	var payload struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return auth.TokenPair{}, fmt.Errorf("client: decode refresh: %w", err)
	}
	return payload.Tokens, nil
}
