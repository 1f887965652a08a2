package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse battery"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong password, got %v", err)
	}
	if err := VerifyPassword("", "anything"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty hash, got %v", err)
	}
}

func TestHashPasswordRejectsOverlongInput(t *testing.T) {
	// bcrypt would silently ignore byte 73 and beyond.
	long := strings.Repeat("x", maxPasswordBytes+1)
	if _, err := HashPassword(long, bcrypt.MinCost); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := HashPassword("", bcrypt.MinCost); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty password, got %v", err)
	}
}

func TestHashPasswordCostOutOfRangeFallsBack(t *testing.T) {
	hash, err := HashPassword("password123", 99)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != defaultHashCost {
		t.Fatalf("expected fallback cost %d, got %d", defaultHashCost, cost)
	}
}

func TestWithHashCostValidation(t *testing.T) {
	if _, err := NewService(NewMemoryStore(), "secret", WithHashCost(bcrypt.MaxCost+1)); err == nil {
		t.Fatalf("expected error for out-of-range cost")
	}
	if _, err := NewService(NewMemoryStore(), "secret", WithHashCost(bcrypt.MinCost)); err != nil {
		t.Fatalf("WithHashCost(MinCost): %v", err)
	}
}
