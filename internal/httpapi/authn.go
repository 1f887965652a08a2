package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"paneldeck.org/internal/auth"
)

// Machine-readable 401/403 codes. Clients branch on these to decide between
// refreshing, retrying and tearing the session down, so they are part of the
// API contract.
const (
	codeTokenExpired     = "token_expired"
	codeTokenRevoked     = "token_revoked"
	codeReuseDetected    = "reuse_detected"
	codeInvalidToken     = "invalid_token"
	codeIdentityRejected = "identity_rejected"
	codePermissionDenied = "permission_denied"
)

// publicPaths are reachable without a bearer token. The refresh endpoint
// authenticates with the refresh token in the body, not the access token,
// so an expired access token never blocks the exchange.
var publicPaths = map[string]bool{
	"/healthz":          true,
	"/readyz":           true,
	"/metrics":          true,
	"/v1/info":          true,
	"/v1/auth/register": true,
	"/v1/auth/login":    true,
	"/v1/auth/refresh":  true,
	"/v1/auth/logout":   true,
}

// withAuth authenticates the bearer token on protected paths and stores the
// resulting principal in the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeErrorCode(w, r, http.StatusUnauthorized, codeInvalidToken, "missing bearer token")
			return
		}
		principal, err := a.auth.AuthenticateToken(r.Context(), token)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// ensurePermissions gates a handler on the caller holding every listed
// permission. Missing principal is a 401, missing permission a 403.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...auth.Permission) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
		return auth.Principal{}, false
	}
	if !principal.Permissions.HasAll(perms...) {
		a.audit(r.Context(), "authz.denied", map[string]any{
			"path":     r.URL.Path,
			"required": auth.NewPermissionSet(perms...).Strings(),
		})
		writeErrorCode(w, r, http.StatusForbidden, codePermissionDenied, "permission denied")
		return auth.Principal{}, false
	}
	return principal, true
}

// handleAuthError translates service errors into status codes and machine
// codes. Order matters: reuse and revocation are more specific than the
// generic invalid token case.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrReuseDetected):
		writeErrorCode(w, r, http.StatusUnauthorized, codeReuseDetected, "refresh token reuse detected; session revoked")
	case errors.Is(err, auth.ErrRevokedToken):
		writeErrorCode(w, r, http.StatusUnauthorized, codeTokenRevoked, "token has been revoked")
	case errors.Is(err, auth.ErrExpiredToken):
		writeErrorCode(w, r, http.StatusUnauthorized, codeTokenExpired, "token has expired")
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrInvalidToken):
		writeErrorCode(w, r, http.StatusUnauthorized, codeInvalidToken, "invalid token")
	case errors.Is(err, auth.ErrUserDisabled):
		// 403, not 401: the token is fine, the identity behind it is not.
		// Clients treat this as terminal and end the session instead of
		// refreshing.
		writeErrorCode(w, r, http.StatusForbidden, codeIdentityRejected, "account disabled")
	case errors.Is(err, auth.ErrUnauthorized):
		writeErrorCode(w, r, http.StatusUnauthorized, codeInvalidToken, "invalid credentials")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeErrorCode(w, r, http.StatusForbidden, codePermissionDenied, "permission denied")
	case errors.Is(err, auth.ErrSystemRole):
		writeError(w, r, http.StatusForbidden, "system roles cannot be modified")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
