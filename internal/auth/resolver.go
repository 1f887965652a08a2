package auth

import (
	"context"
	"errors"
	"sync"
)

// Resolver answers point-in-time permission queries. Effective sets are the
// deterministic union of permissions across a user's assigned roles, cached
// per user. The cache is invalidated synchronously on every role or
// assignment mutation; a stale-permission window is a security defect, so
// role-level invalidation drops the whole cache rather than chasing affected
// users.
type Resolver struct {
	store Store

	mu    sync.RWMutex
	cache map[string]PermissionSet
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]PermissionSet),
	}
}

// EffectivePermissions returns the union of permissions across the user's
// assigned roles.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	r.mu.RLock()
	cached, ok := r.cache[userID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	assignments, err := r.store.Roles().Assignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(PermissionSet)
	for _, a := range assignments {
		role, err := r.store.Roles().Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, p := range role.Permissions {
			set[p] = struct{}{}
		}
	}

	r.mu.Lock()
	r.cache[userID] = set
	r.mu.Unlock()
	return set, nil
}

// Can reports whether the user holds the permission.
func (r *Resolver) Can(ctx context.Context, userID string, perm Permission) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(perm), nil
}

// CanAny reports whether the user holds at least one of the permissions.
func (r *Resolver) CanAny(ctx context.Context, userID string, perms ...Permission) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.HasAny(perms...), nil
}

// CanAll reports whether the user holds every one of the permissions.
func (r *Resolver) CanAll(ctx context.Context, userID string, perms ...Permission) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.HasAll(perms...), nil
}

// InvalidateUser drops the cached set for one user. Called on assignment
// changes.
func (r *Resolver) InvalidateUser(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

// InvalidateRole drops every cached set. Called when a role's permissions
// change or a role is deleted; the next check per user recomputes from the
// store.
func (r *Resolver) InvalidateRole(roleID string) {
	_ = roleID
	r.mu.Lock()
	r.cache = make(map[string]PermissionSet)
	r.mu.Unlock()
}
