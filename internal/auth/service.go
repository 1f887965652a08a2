package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultIssuer     = "paneldeck"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour

	minPasswordLength = 8
	minUsernameLength = 3
)

// Service provides credential management, token issuance and RBAC operations.
type Service struct {
	store    Store
	resolver *Resolver
	now      func() time.Time

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	hashCost   int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithHashCost overrides the bcrypt cost used for new password hashes.
// Existing hashes keep the cost they were created with.
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("auth: bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
		}
		s.hashCost = cost
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. The signing secret is mandatory.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		hashCost:   defaultHashCost,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.resolver = NewResolver(store)
	return svc, nil
}

// Resolver exposes the permission resolver backing this service.
func (s *Service) Resolver() *Resolver { return s.resolver }

// EnsureBuiltins seeds the system roles if they are missing.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	roles := s.store.Roles()
	for _, builtin := range BuiltinRoles() {
		_, err := roles.FindByName(ctx, builtin.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		role := builtin
		if err := roles.Create(ctx, &role); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return nil
}

// Register creates a user, assigns a default role and issues a token pair.
// The first account ever registered becomes admin; everyone after starts as
// viewer until promoted.
func (s *Service) Register(ctx context.Context, username, password, displayName string) (Principal, TokenPair, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if len(username) < minUsernameLength {
		return Principal{}, TokenPair{}, fmt.Errorf("%w: username must be at least %d characters", ErrInvalidInput, minUsernameLength)
	}
	if len(password) < minPasswordLength {
		return Principal{}, TokenPair{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if _, err := s.store.Users().FindByUsername(ctx, username); err == nil {
		return Principal{}, TokenPair{}, fmt.Errorf("%w: username taken", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return Principal{}, TokenPair{}, err
	}

	hash, err := HashPassword(password, s.hashCost)
	if err != nil {
		return Principal{}, TokenPair{}, err
	}
	existing, err := s.store.Users().Count(ctx)
	if err != nil {
		return Principal{}, TokenPair{}, err
	}

	user := &User{
		Username:     username,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(displayName),
		Status:       UserStatusActive,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return Principal{}, TokenPair{}, err
	}

	defaultRole := RoleViewer
	if existing == 0 {
		defaultRole = RoleAdmin
	}
	role, err := s.store.Roles().FindByName(ctx, defaultRole)
	if err != nil {
		return Principal{}, TokenPair{}, fmt.Errorf("find default role: %w", err)
	}
	if err := s.store.Roles().Assign(ctx, Assignment{UserID: user.ID, RoleID: role.ID}); err != nil {
		return Principal{}, TokenPair{}, err
	}

	principal, err := s.principal(ctx, user)
	if err != nil {
		return Principal{}, TokenPair{}, err
	}
	pair, err := s.Issue(ctx, user)
	if err != nil {
		return Principal{}, TokenPair{}, err
	}
	return principal, pair, nil
}

// Login authenticates credentials and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, username, password string) (Principal, TokenPair, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return Principal{}, TokenPair{}, ErrUnauthorized
	}
	user, err := s.store.Users().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, TokenPair{}, ErrUnauthorized
		}
		return Principal{}, TokenPair{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Principal{}, TokenPair{}, ErrUnauthorized
	}
	if user.Status != UserStatusActive {
		return Principal{}, TokenPair{}, ErrUserDisabled
	}
	principal, err := s.principal(ctx, user)
	if err != nil {
		return Principal{}, TokenPair{}, err
	}
	pair, err := s.Issue(ctx, user)
	if err != nil {
		return Principal{}, TokenPair{}, err
	}
	return principal, pair, nil
}

// AuthenticateToken validates an access token and loads the principal behind
// it. An expired token surfaces as ErrExpiredToken so callers can distinguish
// "refresh and retry" from "identity rejected".
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	userID, err := s.ValidateAccess(token)
	if err != nil {
		return Principal{}, err
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnauthorized
		}
		return Principal{}, err
	}
	if user.Status != UserStatusActive {
		return Principal{}, ErrUserDisabled
	}
	return s.principal(ctx, user)
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every outstanding refresh token for the user.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, oldPassword); err != nil {
		return ErrUnauthorized
	}
	hash, err := HashPassword(newPassword, s.hashCost)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.RevokeAll(ctx, userID, RevokeReasonPassword)
}

// UpdateProfile updates display name and presentation preferences.
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName string, prefs Prefs) error {
	return s.store.Users().UpdateProfile(ctx, userID, strings.TrimSpace(displayName), prefs)
}

// SetUserStatus enables or disables an account. Disabling revokes all
// refresh tokens so the account cannot rotate its way back in.
func (s *Service) SetUserStatus(ctx context.Context, userID, status string) error {
	status = strings.TrimSpace(strings.ToLower(status))
	if status != UserStatusActive && status != UserStatusDisabled {
		return fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}
	if err := s.store.Users().SetStatus(ctx, userID, status); err != nil {
		return err
	}
	if status == UserStatusDisabled {
		return s.RevokeAll(ctx, userID, RevokeReasonAdmin)
	}
	return nil
}

// ListUsers returns all user records.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.store.Users().List(ctx)
}

// GetUser loads a single user record.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.store.Users().Find(ctx, userID)
}

// --- Role management. Every mutation funnels through the resolver's cache
// invalidation so permission checks never observe stale role data. ---

// CreateRole creates a custom (non-system) role.
func (s *Service) CreateRole(ctx context.Context, name string, permissions []string) (*Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	perms, err := ParsePermissions(permissions)
	if err != nil {
		return nil, err
	}
	role := &Role{Name: name, Permissions: perms}
	if err := s.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// RenameRole renames a custom role. System roles are immutable.
func (s *Service) RenameRole(ctx context.Context, roleID, name string) error {
	role, err := s.store.Roles().Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.Roles().Update(ctx, roleID, name)
}

// SetRolePermissions replaces a role's permission set and invalidates cached
// effective permissions for everyone holding the role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, permissions []string) error {
	role, err := s.store.Roles().Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	perms, err := ParsePermissions(permissions)
	if err != nil {
		return err
	}
	if err := s.store.Roles().SetPermissions(ctx, roleID, perms); err != nil {
		return err
	}
	s.resolver.InvalidateRole(roleID)
	return nil
}

// DeleteRole removes a custom role and its assignments.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.store.Roles().Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	if err := s.store.Roles().Delete(ctx, roleID); err != nil {
		return err
	}
	s.resolver.InvalidateRole(roleID)
	return nil
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles().List(ctx)
}

// AssignRole gives a user a role.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) error {
	if _, err := s.store.Roles().Find(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.store.Users().Find(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Roles().Assign(ctx, Assignment{UserID: userID, RoleID: roleID}); err != nil {
		return err
	}
	s.resolver.InvalidateUser(userID)
	return nil
}

// UnassignRole removes a role from a user.
func (s *Service) UnassignRole(ctx context.Context, userID, roleID string) error {
	if err := s.store.Roles().Unassign(ctx, userID, roleID); err != nil {
		return err
	}
	s.resolver.InvalidateUser(userID)
	return nil
}

func (s *Service) principal(ctx context.Context, user *User) (Principal, error) {
	perms, err := s.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: user, Permissions: perms}, nil
}
