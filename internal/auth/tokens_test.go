package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	// MinCost keeps the many register calls across the suite fast.
	opts = append([]ServiceOption{WithClock(clock.Now), WithHashCost(bcrypt.MinCost)}, opts...)
	svc, err := NewService(store, "unit-test-secret", opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return svc, store, clock
}

func registerUser(t *testing.T, svc *Service, username string) (Principal, TokenPair) {
	t.Helper()
	principal, pair, err := svc.Register(context.Background(), username, "password123", "")
	if err != nil {
		t.Fatalf("Register %s: %v", username, err)
	}
	return principal, pair
}

func TestIssueAndValidateAccess(t *testing.T) {
	svc, _, _ := newTestService(t)
	principal, pair := registerUser(t, svc, "alice")

	userID, err := svc.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if userID != principal.User.ID {
		t.Fatalf("subject mismatch: got %s want %s", userID, principal.User.ID)
	}
}

func TestValidateAccessExpiry(t *testing.T) {
	svc, _, clock := newTestService(t, WithAccessTTL(10*time.Minute))
	_, pair := registerUser(t, svc, "alice")

	// Inside the skew leeway the token still validates.
	clock.Advance(10*time.Minute + 3*time.Second)
	if _, err := svc.ValidateAccess(pair.AccessToken); err != nil {
		t.Fatalf("expected token valid within leeway, got %v", err)
	}

	clock.Advance(10 * time.Second)
	if _, err := svc.ValidateAccess(pair.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateAccessWrongSecret(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, pair := registerUser(t, svc, "alice")

	other, err := NewService(NewMemoryStore(), "different-secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.ValidateAccess(pair.AccessToken); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestValidateAccessGarbage(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := svc.ValidateAccess(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestRotateRefreshHappyPath(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, pair := registerUser(t, svc, "alice")

	rotated, err := svc.RotateRefresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh token must rotate")
	}
	if rotated.AccessToken == pair.AccessToken {
		t.Fatalf("access token must be reminted")
	}

	// Old and new records share a family.
	oldID := strings.SplitN(pair.RefreshToken, ".", 2)[0]
	newID := strings.SplitN(rotated.RefreshToken, ".", 2)[0]
	oldRec, err := store.RefreshTokens().Find(context.Background(), oldID)
	if err != nil {
		t.Fatalf("find old record: %v", err)
	}
	newRec, err := store.RefreshTokens().Find(context.Background(), newID)
	if err != nil {
		t.Fatalf("find new record: %v", err)
	}
	if oldRec.FamilyID != newRec.FamilyID {
		t.Fatalf("rotation changed family: %s vs %s", oldRec.FamilyID, newRec.FamilyID)
	}
	if !oldRec.Revoked() || oldRec.RevokedReason != RevokeReasonRotated {
		t.Fatalf("old record should be revoked as rotated, got %+v", oldRec)
	}
}

func TestRotateRefreshReuseRevokesFamily(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, pair := registerUser(t, svc, "alice")

	rotated, err := svc.RotateRefresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}

	// Replay the consumed token.
	if _, err := svc.RotateRefresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}

	// Every member of the family is now dead, including the fresh one.
	if _, err := svc.RotateRefresh(context.Background(), rotated.RefreshToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken for family member, got %v", err)
	}

	familyID := strings.SplitN(pair.RefreshToken, ".", 2)[0]
	members, err := store.RefreshTokens().ListByFamily(context.Background(), familyID)
	if err != nil {
		t.Fatalf("ListByFamily: %v", err)
	}
	for _, m := range members {
		if !m.Revoked() {
			t.Fatalf("family member %s not revoked", m.ID)
		}
	}
}

func TestRotateRefreshExpired(t *testing.T) {
	svc, _, clock := newTestService(t, WithRefreshTTL(time.Hour))
	_, pair := registerUser(t, svc, "alice")

	clock.Advance(2 * time.Hour)
	if _, err := svc.RotateRefresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestRotateRefreshWrongSecretBurnsRecord(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, pair := registerUser(t, svc, "alice")

	id := strings.SplitN(pair.RefreshToken, ".", 2)[0]
	forged := id + ".bm90LXRoZS1yaWdodC1zZWNyZXQ"

	if _, err := svc.RotateRefresh(context.Background(), forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for forged secret, got %v", err)
	}
	// The legitimate token is collateral damage: its record was burned.
	if _, err := svc.RotateRefresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken after burn, got %v", err)
	}
}

func TestRotateRefreshUnknownAndMalformed(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerUser(t, svc, "alice")

	for _, raw := range []string{"", "no-dot", "unknownid.c2VjcmV0", "a.b.c"} {
		if _, err := svc.RotateRefresh(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, pair := registerUser(t, svc, "alice")

	if err := svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("second logout should be a no-op: %v", err)
	}

	// Refresh after logout is plain revocation, not reuse: nothing was
	// rotated, so nothing leaked.
	if _, err := svc.RotateRefresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, pair := registerUser(t, svc, "alice")

	const n = 8
	var wg sync.WaitGroup
	var successes, reuses int32
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RotateRefresh(context.Background(), pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrReuseDetected):
				reuses++
			default:
				t.Errorf("unexpected rotation error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly 1 winning rotation, got %d", successes)
	}
	if reuses != n-1 {
		t.Fatalf("expected %d reuse detections, got %d", n-1, reuses)
	}
}

func TestRevokeAll(t *testing.T) {
	svc, _, _ := newTestService(t)
	principal, pair := registerUser(t, svc, "alice")
	_, second, err := svc.Login(context.Background(), "alice", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.RevokeAll(context.Background(), principal.User.ID, RevokeReasonAdmin); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	for _, raw := range []string{pair.RefreshToken, second.RefreshToken} {
		if _, err := svc.RotateRefresh(context.Background(), raw); !errors.Is(err, ErrRevokedToken) {
			t.Fatalf("expected ErrRevokedToken after RevokeAll, got %v", err)
		}
	}
}
