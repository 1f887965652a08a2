package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paneldeck.org/internal/auth"
)

func seededStore() *SessionStore {
	store := NewSessionStore(nil)
	store.Set(Session{
		User: &auth.User{ID: "u1", Username: "alice"},
		Tokens: auth.TokenPair{
			AccessToken:  "access-0",
			RefreshToken: "refresh-0",
		},
	})
	return store
}

func TestCoordinatorCoalescesConcurrentRefreshes(t *testing.T) {
	store := seededStore()

	var calls atomic.Int32
	exchange := func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		calls.Add(1)
		// Hold the flight open long enough for every caller to pile in.
		time.Sleep(100 * time.Millisecond)
		return auth.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
	}
	coord := NewCoordinator(store, exchange, nil)

	const n = 16
	var wg sync.WaitGroup
	pairs := make(chan auth.TokenPair, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := coord.Refresh(context.Background())
			if err != nil {
				t.Errorf("refresh: %v", err)
				return
			}
			pairs <- pair
		}()
	}
	wg.Wait()
	close(pairs)

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 exchange, got %d", got)
	}
	for pair := range pairs {
		if pair.RefreshToken != "refresh-1" {
			t.Fatalf("caller got wrong pair: %+v", pair)
		}
	}
	sess, _, ok := store.Current()
	if !ok || sess.Tokens.RefreshToken != "refresh-1" {
		t.Fatalf("store not updated: %+v", sess.Tokens)
	}
}

func TestCoordinatorTerminalErrorEndsSession(t *testing.T) {
	store := seededStore()

	var ends atomic.Int32
	exchange := func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		return auth.TokenPair{}, &APIError{
			Status: http.StatusUnauthorized,
			Code:   CodeReuseDetected,
		}
	}
	coord := NewCoordinator(store, exchange, func() { ends.Add(1) })

	_, err := coord.Refresh(context.Background())
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if _, _, ok := store.Current(); ok {
		t.Fatalf("session should be cleared")
	}
	if got := ends.Load(); got != 1 {
		t.Fatalf("expected 1 session end, got %d", got)
	}
}

func TestCoordinatorTransientErrorKeepsSession(t *testing.T) {
	store := seededStore()

	exchange := func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		return auth.TokenPair{}, errors.New("connection refused")
	}
	coord := NewCoordinator(store, exchange, nil)

	_, err := coord.Refresh(context.Background())
	if err == nil || errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected transient error, got %v", err)
	}
	sess, _, ok := store.Current()
	if !ok || sess.Tokens.RefreshToken != "refresh-0" {
		t.Fatalf("session should be untouched, got %+v", sess.Tokens)
	}
}

func TestCoordinatorDiscardsStaleEpochUpdate(t *testing.T) {
	store := seededStore()

	release := make(chan struct{})
	exchange := func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		<-release
		return auth.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
	}
	coord := NewCoordinator(store, exchange, nil)

	done := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background())
		done <- err
	}()

	// Logout races the in-flight refresh.
	time.Sleep(20 * time.Millisecond)
	store.Clear()
	close(release)

	if err := <-done; !errors.Is(err, ErrSessionReplaced) {
		t.Fatalf("expected ErrSessionReplaced for stale epoch, got %v", err)
	}
	if _, _, ok := store.Current(); ok {
		t.Fatalf("cleared session must not be resurrected by a late refresh")
	}
}

func TestCoordinatorLateFailureSparesNewSession(t *testing.T) {
	store := seededStore()

	var ends atomic.Int32
	exchange := func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		// Re-login completes while the exchange is in flight; the server
		// then rejects the old flight's token.
		store.Set(Session{
			User:   &auth.User{ID: "u1", Username: "alice"},
			Tokens: auth.TokenPair{AccessToken: "access-B", RefreshToken: "refresh-B"},
		})
		return auth.TokenPair{}, &APIError{
			Status: http.StatusUnauthorized,
			Code:   CodeTokenRevoked,
		}
	}
	coord := NewCoordinator(store, exchange, func() { ends.Add(1) })

	_, err := coord.Refresh(context.Background())
	if !errors.Is(err, ErrSessionReplaced) {
		t.Fatalf("expected ErrSessionReplaced, got %v", err)
	}
	sess, _, ok := store.Current()
	if !ok || sess.Tokens.RefreshToken != "refresh-B" {
		t.Fatalf("new session was disturbed by the stale rejection: %+v", sess.Tokens)
	}
	if got := ends.Load(); got != 0 {
		t.Fatalf("onSessionEnd fired %d times for a session that still exists", got)
	}
}

func TestCoordinatorNoSession(t *testing.T) {
	store := NewSessionStore(nil)
	coord := NewCoordinator(store, func(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
		t.Fatal("exchange should not run without a session")
		return auth.TokenPair{}, nil
	}, nil)

	if _, err := coord.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
