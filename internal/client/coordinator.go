package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/singleflight"

	"paneldeck.org/internal/auth"
)

// Coordinator serializes refresh exchanges. When several requests observe an
// expired access token at once, exactly one exchange hits the server and the
// rest share its result. Without this the losers of the race would present
// the already-rotated token and trip reuse detection server-side.
type Coordinator struct {
	store        *SessionStore
	exchange     func(ctx context.Context, refreshToken string) (auth.TokenPair, error)
	onSessionEnd func()
	group        singleflight.Group
}

// NewCoordinator constructs a Coordinator. exchange performs the actual
// refresh call against the API; onSessionEnd may be nil.
func NewCoordinator(store *SessionStore, exchange func(ctx context.Context, refreshToken string) (auth.TokenPair, error), onSessionEnd func()) *Coordinator {
	return &Coordinator{store: store, exchange: exchange, onSessionEnd: onSessionEnd}
}

// Refresh exchanges the current refresh token for a new pair. Concurrent
// callers coalesce into a single exchange. A terminal rejection (revoked,
// reused, expired, malformed) tears the session down and returns
// ErrSessionEnded; transport errors leave the session intact for retry. If
// the session is cleared or replaced while the exchange is in flight, the
// result is discarded, the current session is left alone and the caller
// gets ErrSessionReplaced.
func (c *Coordinator) Refresh(ctx context.Context) (auth.TokenPair, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		// Read inside the flight so followers queued behind a finished
		// exchange see the already-rotated token, not the one they captured.
		sess, epoch, ok := c.store.Current()
		if !ok || sess.Tokens.RefreshToken == "" {
			return auth.TokenPair{}, ErrNoSession
		}
		pair, err := c.exchange(ctx, sess.Tokens.RefreshToken)
		if err != nil {
			if isTerminalRefreshError(err) {
				// Tear down only the session this flight belongs to. A
				// rejection that arrives after a re-login must not touch
				// the newer session.
				if !c.store.ClearIfEpoch(epoch) {
					return auth.TokenPair{}, ErrSessionReplaced
				}
				if c.onSessionEnd != nil {
					c.onSessionEnd()
				}
				return auth.TokenPair{}, fmt.Errorf("%w: %v", ErrSessionEnded, err)
			}
			return auth.TokenPair{}, err
		}
		if !c.store.UpdateTokens(pair, epoch) {
			return auth.TokenPair{}, ErrSessionReplaced
		}
		return pair, nil
	})
	if err != nil {
		return auth.TokenPair{}, err
	}
	return v.(auth.TokenPair), nil
}

// isTerminalRefreshError reports whether the server definitively rejected
// the refresh token, as opposed to a transient failure.
func isTerminalRefreshError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status != http.StatusUnauthorized {
		return false
	}
	switch apiErr.Code {
	case CodeReuseDetected, CodeTokenRevoked, CodeTokenExpired, CodeInvalidToken, "":
		return true
	}
	return false
}
