package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	RefreshTokens() RefreshTokenStore
}

// UserStore manages user records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Count(ctx context.Context) (int, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateProfile(ctx context.Context, userID, displayName string, prefs Prefs) error
	SetStatus(ctx context.Context, userID, status string) error
}

// RoleStore manages roles and role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, roleID, name string) error
	Delete(ctx context.Context, roleID string) error
	SetPermissions(ctx context.Context, roleID string, perms []Permission) error
	Assign(ctx context.Context, assignment Assignment) error
	Unassign(ctx context.Context, userID, roleID string) error
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
}

// RefreshTokenStore manages the refresh token lifecycle. MarkRevoked must be
// atomic: when two rotations race over one record, exactly one caller wins
// and the loser observes ErrRevokedToken.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id, reason string) error
	RevokeFamily(ctx context.Context, familyID, reason string) error
	RevokeByUser(ctx context.Context, userID, reason string) error
	ListByFamily(ctx context.Context, familyID string) ([]*RefreshToken, error)
}
