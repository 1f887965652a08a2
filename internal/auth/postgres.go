package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"paneldeck.org/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// PGStore implements Store on PostgreSQL. Refresh token revocation records
// live here so reuse detection survives process restarts.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                 { return &pgUserStore{db: s.db} }
func (s *PGStore) Roles() RoleStore                 { return &pgRoleStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgTokenStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// User store ---------------------------------------------------------------

type pgUserStore struct{ db *sql.DB }

const userColumns = `id, username, password_hash, display_name, status, prefs, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u     User
		prefs []byte
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.Status, &prefs, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &u.Prefs); err != nil {
			return nil, fmt.Errorf("decode prefs: %w", err)
		}
	}
	return &u, nil
}

func (s *pgUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	prefs, err := json.Marshal(u.Prefs)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users(id, username, password_hash, display_name, status, prefs)
		values ($1,$2,$3,$4,$5,$6)
		returning created_at, updated_at
	`, u.ID, u.Username, u.PasswordHash, u.DisplayName, u.Status, prefs)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *pgUserStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username))
}

func (s *pgUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *pgUserStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n)
	return n, err
}

func (s *pgUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.execExpectingRow(ctx,
		`update users set password_hash=$1, updated_at=now() where id=$2`,
		passwordHash, userID)
}

func (s *pgUserStore) UpdateProfile(ctx context.Context, userID, displayName string, prefs Prefs) error {
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	return s.execExpectingRow(ctx,
		`update users set display_name=$1, prefs=$2, updated_at=now() where id=$3`,
		displayName, encoded, userID)
}

func (s *pgUserStore) SetStatus(ctx context.Context, userID, status string) error {
	return s.execExpectingRow(ctx,
		`update users set status=$1, updated_at=now() where id=$2`,
		status, userID)
}

func (s *pgUserStore) execExpectingRow(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Role store ---------------------------------------------------------------

type pgRoleStore struct{ db *sql.DB }

const roleColumns = `id, name, permissions, is_system, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*Role, error) {
	var (
		role  Role
		perms []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &perms, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &role, nil
}

func (s *pgRoleStore) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles(id, name, permissions, is_system)
		values ($1,$2,$3,$4)
		returning created_at, updated_at
	`, role.ID, role.Name, perms, role.IsSystem)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *pgRoleStore) Find(ctx context.Context, id string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id=$1`, id))
}

func (s *pgRoleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where name=$1`, name))
}

func (s *pgRoleStore) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *pgRoleStore) Update(ctx context.Context, roleID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`update roles set name=$1, updated_at=now() where id=$2`, name, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ErrConflict
		}
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgRoleStore) Delete(ctx context.Context, roleID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_roles where role_id=$1`, roleID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from roles where id=$1`, roleID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *pgRoleStore) SetPermissions(ctx context.Context, roleID string, perms []Permission) error {
	encoded, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`update roles set permissions=$1, updated_at=now() where id=$2`, encoded, roleID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgRoleStore) Assign(ctx context.Context, assignment Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_roles(user_id, role_id) values ($1,$2) on conflict do nothing`,
		assignment.UserID, assignment.RoleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return ErrNotFound
		}
	}
	return err
}

func (s *pgRoleStore) Unassign(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role_id=$2`, userID, roleID)
	return err
}

func (s *pgRoleStore) Assignments(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id, role_id, created_at from user_roles where user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Refresh token store ------------------------------------------------------

type pgTokenStore struct{ db *sql.DB }

func (s *pgTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens(id, user_id, family_id, token_hash, expires_at, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, tok.ID, tok.UserID, tok.FamilyID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt)
	return err
}

func (s *pgTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	var (
		tok     RefreshToken
		revoked sql.NullTime
		reason  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, family_id, token_hash, expires_at, created_at, revoked_at, revoked_reason
		from refresh_tokens where id=$1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.FamilyID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &revoked, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revoked.Valid {
		t := revoked.Time
		tok.RevokedAt = &t
	}
	if reason.Valid {
		tok.RevokedReason = reason.String
	}
	return &tok, nil
}

// MarkRevoked flips the revocation flag only if the record is still live.
// The conditional update is what serializes concurrent rotations of the same
// token: the loser sees zero rows and gets ErrRevokedToken.
func (s *pgTokenStore) MarkRevoked(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at=now(), revoked_reason=$1
		where id=$2 and revoked_at is null
	`, reason, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from refresh_tokens where id=$1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrRevokedToken
	}
	return nil
}

func (s *pgTokenStore) RevokeFamily(ctx context.Context, familyID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at=now(), revoked_reason=$1
		where family_id=$2 and revoked_at is null
	`, reason, familyID)
	return err
}

func (s *pgTokenStore) RevokeByUser(ctx context.Context, userID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at=now(), revoked_reason=$1
		where user_id=$2 and revoked_at is null
	`, reason, userID)
	return err
}

func (s *pgTokenStore) ListByFamily(ctx context.Context, familyID string) ([]*RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, family_id, token_hash, expires_at, created_at, revoked_at, revoked_reason
		from refresh_tokens where family_id=$1 order by created_at, id
	`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RefreshToken
	for rows.Next() {
		var (
			tok     RefreshToken
			revoked sql.NullTime
			reason  sql.NullString
		)
		if err := rows.Scan(&tok.ID, &tok.UserID, &tok.FamilyID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &revoked, &reason); err != nil {
			return nil, err
		}
		if revoked.Valid {
			t := revoked.Time
			tok.RevokedAt = &t
		}
		if reason.Valid {
			tok.RevokedReason = reason.String
		}
		out = append(out, &tok)
	}
	return out, rows.Err()
}
