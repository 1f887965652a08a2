package auth

import (
	"context"
	"strings"
)

// Principal is an authenticated user with resolved permissions.
type Principal struct {
	User        *User
	Permissions PermissionSet
}

// HasPermission reports whether the principal can execute the action.
func (p Principal) HasPermission(perm Permission) bool {
	return p.Permissions.Has(perm)
}

type ctxKey string

const (
	principalKey ctxKey = "auth_principal"
	tokenKey     ctxKey = "auth_token"
)

// ContextWithPrincipal stores the authenticated principal in the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the authenticated principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.User == nil {
		return Principal{}, false
	}
	return p, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || strings.TrimSpace(p.User.ID) == "" {
		return "", false
	}
	return p.User.ID, true
}

// ContextWithToken stores the raw bearer token for downstream forwarding.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the raw bearer token if present.
func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
