package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is an atomic named capability. The set is closed: role updates
// carrying unknown literals are rejected at the persistence boundary instead
// of being stored verbatim.
type Permission string

const (
	PermBoardView   Permission = "board:view"
	PermBoardEdit   Permission = "board:edit"
	PermBoardDesign Permission = "board:design"
	PermCardAdd     Permission = "card:add"
	PermCardEdit    Permission = "card:edit"
	PermCardDelete  Permission = "card:delete"
	PermThemeEdit   Permission = "theme:edit"
	PermRoleManage  Permission = "role:manage"
	PermUserManage  Permission = "user:manage"
)

// AllPermissions lists every known permission in stable order.
var AllPermissions = []Permission{
	PermBoardView,
	PermBoardEdit,
	PermBoardDesign,
	PermCardAdd,
	PermCardEdit,
	PermCardDelete,
	PermThemeEdit,
	PermRoleManage,
	PermUserManage,
}

var knownPermissions = func() map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(AllPermissions))
	for _, p := range AllPermissions {
		m[p] = struct{}{}
	}
	return m
}()

// ParsePermission validates a permission literal against the closed set.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := knownPermissions[p]; !ok {
		return "", fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, s)
	}
	return p, nil
}

// ParsePermissions validates and deduplicates a list of literals, preserving
// first-seen order.
func ParsePermissions(values []string) ([]Permission, error) {
	seen := make(map[Permission]struct{}, len(values))
	out := make([]Permission, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		p, err := ParsePermission(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// PermissionSet is a resolved effective permission set.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from a list.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAny reports whether any of the given permissions is present.
func (s PermissionSet) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether every given permission is present.
func (s PermissionSet) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Sorted returns the set as a sorted slice, for stable JSON output.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted set as plain strings.
func (s PermissionSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = string(p)
	}
	return out
}

// Builtin system roles. They are seeded on startup, cannot be edited or
// deleted, and keep the permission model usable before any custom roles exist.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// BuiltinRoles returns fresh copies of the system role definitions.
func BuiltinRoles() []Role {
	return []Role{
		{
			Name:        RoleAdmin,
			Permissions: append([]Permission(nil), AllPermissions...),
			IsSystem:    true,
		},
		{
			Name: RoleEditor,
			Permissions: []Permission{
				PermBoardView, PermBoardEdit,
				PermCardAdd, PermCardEdit, PermCardDelete,
				PermThemeEdit,
			},
			IsSystem: true,
		},
		{
			Name:        RoleViewer,
			Permissions: []Permission{PermBoardView},
			IsSystem:    true,
		},
	}
}
