package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Prefs carries per-user presentation settings. They ride along on the user
// record but play no part in authorization decisions.
type Prefs struct {
	Theme    string `json:"theme,omitempty"`
	HideLogo bool   `json:"hide_logo,omitempty"`
}

// User is a registered account. Users are never hard-deleted while boards may
// reference them; removal flips Status to disabled instead.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name,omitempty"`
	Status       string    `json:"status"`
	Prefs        Prefs     `json:"prefs"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a named, assignable bundle of permissions. System roles are seeded
// at startup and are immutable.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	IsSystem    bool         `json:"is_system"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Assignment links a user to a role.
type Assignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Revocation reasons recorded on refresh token records. The reason decides
// how a later presentation of the dead token is classified: a rotated token
// coming back is reuse (compromise signal), anything else is plain revocation.
const (
	RevokeReasonRotated  = "rotated"
	RevokeReasonLogout   = "logout"
	RevokeReasonReuse    = "reuse"
	RevokeReasonPassword = "password_change"
	RevokeReasonAdmin    = "admin"
)

// RefreshToken is the persisted, revocable half of a token pair. The secret
// itself is never stored; only its SHA-256 hash is.
type RefreshToken struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	FamilyID      string     `json:"family_id"`
	TokenHash     string     `json:"-"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
}

// Revoked reports whether the record has been invalidated.
func (t *RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// TokenPair is the result of issuance and of every successful rotation.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
