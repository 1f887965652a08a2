package client

import (
	"path/filepath"
	"testing"

	"paneldeck.org/internal/auth"
)

func TestSessionStoreEpochDiscard(t *testing.T) {
	store := seededStore()
	_, epoch, _ := store.Current()

	// Session replaced (new login) while a refresh was in flight.
	store.Set(Session{
		User:   &auth.User{ID: "u2", Username: "bob"},
		Tokens: auth.TokenPair{AccessToken: "b-access", RefreshToken: "b-refresh"},
	})

	if store.UpdateTokens(auth.TokenPair{AccessToken: "late", RefreshToken: "late"}, epoch) {
		t.Fatalf("stale-epoch update must be discarded")
	}
	sess, _, _ := store.Current()
	if sess.Tokens.RefreshToken != "b-refresh" {
		t.Fatalf("late update clobbered the new session: %+v", sess.Tokens)
	}
}

func TestSessionStoreUpdateTokens(t *testing.T) {
	store := seededStore()
	_, epoch, _ := store.Current()

	pair := auth.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
	if !store.UpdateTokens(pair, epoch) {
		t.Fatalf("current-epoch update should apply")
	}
	sess, _, _ := store.Current()
	if sess.Tokens != pair {
		t.Fatalf("tokens not updated: %+v", sess.Tokens)
	}
	if sess.User.ID != "u1" {
		t.Fatalf("identity must survive token updates")
	}
}

func TestSessionStoreClearIfEpoch(t *testing.T) {
	store := seededStore()
	_, epoch, _ := store.Current()

	// Session replaced: the guarded clear must not touch it.
	replacement := Session{
		User:   &auth.User{ID: "u2", Username: "bob"},
		Tokens: auth.TokenPair{AccessToken: "b-access", RefreshToken: "b-refresh"},
	}
	store.Set(replacement)
	if store.ClearIfEpoch(epoch) {
		t.Fatalf("stale-epoch clear must be a no-op")
	}
	sess, epoch2, ok := store.Current()
	if !ok || sess.User.ID != "u2" {
		t.Fatalf("replacement session was cleared: %+v", sess)
	}

	// Matching epoch: clears like Clear does.
	if !store.ClearIfEpoch(epoch2) {
		t.Fatalf("current-epoch clear should apply")
	}
	if _, _, ok := store.Current(); ok {
		t.Fatalf("session should be gone")
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "session.json")
	fs := &FileStorage{Path: path}

	if sess, err := fs.Load(); err != nil || sess != nil {
		t.Fatalf("missing file should load as nil, got %+v, %v", sess, err)
	}

	want := Session{
		User:        &auth.User{ID: "u1", Username: "alice"},
		Permissions: []string{"board:view"},
		Tokens:      auth.TokenPair{AccessToken: "a", RefreshToken: "r"},
	}
	if err := fs.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := fs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.User.Username != "alice" || got.Tokens.RefreshToken != "r" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := fs.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if sess, err := fs.Load(); err != nil || sess != nil {
		t.Fatalf("cleared file should load as nil, got %+v, %v", sess, err)
	}
	// Clearing twice is fine.
	if err := fs.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestGuardRedirects(t *testing.T) {
	store := NewSessionStore(nil)
	guard := NewGuard(store)

	// No session: off to login with the destination preserved.
	d := guard.Check(Route{Path: "/boards/42", Required: []auth.Permission{auth.PermBoardView}})
	if d.Allow {
		t.Fatalf("expected redirect without session")
	}
	if d.Redirect != "/login?next=%2Fboards%2F42" {
		t.Fatalf("unexpected redirect: %q", d.Redirect)
	}

	store.Set(Session{
		User:        &auth.User{ID: "u1"},
		Permissions: []string{"board:view"},
	})

	// Permission present: allowed.
	d = guard.Check(Route{Path: "/boards/42", Required: []auth.Permission{auth.PermBoardView}})
	if !d.Allow {
		t.Fatalf("expected allow, got redirect %q", d.Redirect)
	}

	// Permission missing: forbidden, not login.
	d = guard.Check(Route{Path: "/settings/roles", Required: []auth.Permission{auth.PermRoleManage}})
	if d.Allow || d.Redirect != "/forbidden" {
		t.Fatalf("expected /forbidden, got %+v", d)
	}
}
