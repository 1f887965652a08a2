package auth

import "errors"

var (
	ErrNotFound         = errors.New("auth: not found")
	ErrConflict         = errors.New("auth: already exists")
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrUnauthorized     = errors.New("auth: unauthorized")
	ErrPermissionDenied = errors.New("auth: permission denied")

	// ErrUserDisabled rejects credentials and tokens of a disabled account.
	// Kept apart from ErrUnauthorized so the API can answer 403 and clients
	// know the identity itself was rejected, not just a stale token.
	ErrUserDisabled = errors.New("auth: user disabled")

	// Token taxonomy. ErrExpiredToken is retryable via refresh; everything
	// else below is terminal for the presented credential.
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrExpiredToken     = errors.New("auth: token expired")
	ErrRevokedToken     = errors.New("auth: token revoked")
	ErrReuseDetected    = errors.New("auth: refresh token reuse detected")

	// ErrSystemRole guards builtin roles against edit and delete.
	ErrSystemRole = errors.New("auth: system role is immutable")
)
