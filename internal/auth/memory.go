package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"paneldeck.org/internal/ids"
)

// MemoryStore is an in-process Store used by tests and the smoke tool. It
// honors the same contracts as the postgres store, including atomic
// MarkRevoked.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]*User
	roles       map[string]*Role
	assignments map[string][]Assignment // userID -> assignments
	tokens      map[string]*RefreshToken
	now         func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		roles:       make(map[string]*Role),
		assignments: make(map[string][]Assignment),
		tokens:      make(map[string]*RefreshToken),
		now:         time.Now,
	}
}

func (s *MemoryStore) Users() UserStore                 { return (*memUserStore)(s) }
func (s *MemoryStore) Roles() RoleStore                 { return (*memRoleStore)(s) }
func (s *MemoryStore) RefreshTokens() RefreshTokenStore { return (*memTokenStore)(s) }

// User store ---------------------------------------------------------------

type memUserStore MemoryStore

func (s *memUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) List(ctx context.Context) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memUserStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *memUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memUserStore) UpdateProfile(ctx context.Context, userID, displayName string, prefs Prefs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.DisplayName = displayName
	u.Prefs = prefs
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memUserStore) SetStatus(ctx context.Context, userID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = s.now().UTC()
	return nil
}

// Role store ---------------------------------------------------------------

type memRoleStore MemoryStore

func (s *memRoleStore) Create(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return ErrConflict
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := s.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	cp := *role
	cp.Permissions = append([]Permission(nil), role.Permissions...)
	s.roles[role.ID] = &cp
	return nil
}

func (s *memRoleStore) Find(ctx context.Context, id string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRole(role), nil
}

func (s *memRoleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.Name == name {
			return copyRole(role), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memRoleStore) List(ctx context.Context) ([]*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, copyRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memRoleStore) Update(ctx context.Context, roleID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	role.Name = name
	role.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memRoleStore) Delete(ctx context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	delete(s.roles, roleID)
	for userID, list := range s.assignments {
		kept := list[:0]
		for _, a := range list {
			if a.RoleID != roleID {
				kept = append(kept, a)
			}
		}
		s.assignments[userID] = kept
	}
	return nil
}

func (s *memRoleStore) SetPermissions(ctx context.Context, roleID string, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	role.Permissions = append([]Permission(nil), perms...)
	role.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memRoleStore) Assign(ctx context.Context, assignment Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments[assignment.UserID] {
		if a.RoleID == assignment.RoleID {
			return nil
		}
	}
	assignment.CreatedAt = s.now().UTC()
	s.assignments[assignment.UserID] = append(s.assignments[assignment.UserID], assignment)
	return nil
}

func (s *memRoleStore) Unassign(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.assignments[userID]
	kept := list[:0]
	for _, a := range list {
		if a.RoleID != roleID {
			kept = append(kept, a)
		}
	}
	s.assignments[userID] = kept
	return nil
}

func (s *memRoleStore) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Assignment(nil), s.assignments[userID]...), nil
}

// Refresh token store ------------------------------------------------------

type memTokenStore MemoryStore

func (s *memTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.ID == "" {
		return fmt.Errorf("%w: token id is required", ErrInvalidInput)
	}
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *memTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *memTokenStore) MarkRevoked(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	if tok.RevokedAt != nil {
		return ErrRevokedToken
	}
	now := s.now().UTC()
	tok.RevokedAt = &now
	tok.RevokedReason = reason
	return nil
}

func (s *memTokenStore) RevokeFamily(ctx context.Context, familyID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, tok := range s.tokens {
		if tok.FamilyID == familyID && tok.RevokedAt == nil {
			tok.RevokedAt = &now
			tok.RevokedReason = reason
		}
	}
	return nil
}

func (s *memTokenStore) RevokeByUser(ctx context.Context, userID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, tok := range s.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			tok.RevokedAt = &now
			tok.RevokedReason = reason
		}
	}
	return nil
}

func (s *memTokenStore) ListByFamily(ctx context.Context, familyID string) ([]*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RefreshToken
	for _, tok := range s.tokens {
		if tok.FamilyID == familyID {
			cp := *tok
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].ID, out[j].ID) < 0 })
	return out, nil
}

func copyRole(role *Role) *Role {
	cp := *role
	cp.Permissions = append([]Permission(nil), role.Permissions...)
	return &cp
}
