package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"paneldeck.org/internal/auth"
)

func sessionFor(name string) Session {
	return Session{
		User: &auth.User{ID: "u-" + name, Username: name},
		Tokens: auth.TokenPair{
			AccessToken:  "access-" + name,
			RefreshToken: "refresh-" + name,
		},
	}
}

func newPipeline(t *testing.T, store *SessionStore, backend http.Handler, exchange func(context.Context, string) (auth.TokenPair, error), onEnd func()) (*Pipeline, string) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	coord := NewCoordinator(store, exchange, onEnd)
	return NewPipeline(srv.Client(), store, coord, onEnd), srv.URL
}

func TestPipelineStaleRefreshSparesNewSession(t *testing.T) {
	store := NewSessionStore(nil)
	store.Set(sessionFor("a"))

	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token has expired","code":"token_expired"}`))
	})

	// The user logs out and back in while the refresh is in flight.
	exchange := func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		store.Set(sessionFor("b"))
		return auth.TokenPair{AccessToken: "access-a2", RefreshToken: "refresh-a2"}, nil
	}

	var ends atomic.Int32
	p, baseURL := newPipeline(t, store, backend, exchange, func() { ends.Add(1) })

	req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/boards", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := p.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the 401 passed through, got %d", resp.StatusCode)
	}

	// The replacement session must survive untouched.
	sess, _, ok := store.Current()
	if !ok || sess.Tokens.RefreshToken != "refresh-b" {
		t.Fatalf("replacement session was torn down: %+v, ok=%v", sess.Tokens, ok)
	}
	if got := ends.Load(); got != 0 {
		t.Fatalf("onSessionEnd fired %d times against the replacement session", got)
	}
}

func TestPipelineSkipsBearerOnAuthEndpoints(t *testing.T) {
	store := NewSessionStore(nil)
	store.Set(sessionFor("a"))

	headers := make(chan string, 2)
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})
	p, baseURL := newPipeline(t, store, backend, nil, nil)

	for _, tc := range []struct {
		path   string
		bearer bool
	}{
		{"/v1/auth/login", false},
		{"/v1/boards", true},
	} {
		req, err := http.NewRequest(http.MethodGet, baseURL+tc.path, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		resp, err := p.Do(req)
		if err != nil {
			t.Fatalf("do %s: %v", tc.path, err)
		}
		resp.Body.Close()
		got := <-headers
		if tc.bearer && got != "Bearer access-a" {
			t.Fatalf("%s: expected bearer header, got %q", tc.path, got)
		}
		if !tc.bearer && got != "" {
			t.Fatalf("%s: expected no bearer header, got %q", tc.path, got)
		}
	}
}
