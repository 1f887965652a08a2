package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"paneldeck.org/internal/auth"
	"paneldeck.org/internal/client"
)

// Drives the full session lifecycle against a running api: register, whoami,
// rotation, reuse detection, logout.
func main() {
	base := os.Getenv("PANELDECK_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	sdk, err := client.New(base)
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	username := fmt.Sprintf("smoke-%d", rand.Int63())
	sess, err := sdk.Register(ctx, username, "smoke-password-1", "Smoke Test")
	if err != nil {
		log.Fatalf("register %s: %v", username, err)
	}

	me, err := sdk.WhoAmI(ctx)
	if err != nil {
		log.Fatalf("whoami: %v", err)
	}
	if me.User.Username != username {
		log.Fatalf("identity mismatch: got %s", me.User.Username)
	}

	firstRefresh := sess.Tokens.RefreshToken

	// Rotate by going through the coordinator path directly.
	thief, err := client.New(base)
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	resp, err := thief.Do(ctx, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": firstRefresh,
	})
	if err != nil {
		log.Fatalf("refresh: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("refresh: unexpected status %d", resp.StatusCode)
	}

	// Replaying the consumed token must trip reuse detection and kill the
	// family, ending the original session.
	resp, err = thief.Do(ctx, http.MethodPost, "/v1/auth/refresh", map[string]any{
		"refresh_token": firstRefresh,
	})
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		log.Fatalf("replay: expected 401, got %d", resp.StatusCode)
	}

	// A fresh login still works; the account itself is unharmed.
	sess2, err := sdk.Login(ctx, username, "smoke-password-1")
	if err != nil {
		log.Fatalf("login after reuse: %v", err)
	}
	if !sess2.HasPermission(auth.PermBoardView) {
		log.Fatalf("expected board:view, got %v", sess2.Permissions)
	}

	if err := sdk.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if _, err := sdk.WhoAmI(ctx); err == nil {
		log.Fatalf("whoami should fail after logout")
	}

	fmt.Printf("✅ auth smoke test passed: user=%s\n", username)
}
