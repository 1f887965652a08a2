package auth

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterFirstUserIsAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)

	first, _ := registerUser(t, svc, "alice")
	if !first.HasPermission(PermRoleManage) || !first.HasPermission(PermUserManage) {
		t.Fatalf("first user should hold admin permissions, got %v", first.Permissions.Strings())
	}

	second, _ := registerUser(t, svc, "bob")
	if second.HasPermission(PermRoleManage) {
		t.Fatalf("second user should not be admin")
	}
	if !second.HasPermission(PermBoardView) {
		t.Fatalf("second user should be viewer, got %v", second.Permissions.Strings())
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, _, err := svc.Register(context.Background(), "ab", "password123", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short username: expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := svc.Register(context.Background(), "alice", "short", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short password: expected ErrInvalidInput, got %v", err)
	}

	registerUser(t, svc, "alice")
	if _, _, err := svc.Register(context.Background(), "Alice", "password123", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username (case-folded): expected ErrConflict, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerUser(t, svc, "alice")

	if _, _, err := svc.Login(context.Background(), "alice", "wrong-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password: expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody", "password123"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user: expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "ALICE", "password123"); err != nil {
		t.Fatalf("case-folded login should succeed: %v", err)
	}
}

func TestAuthenticateTokenDisabledUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	principal, pair := registerUser(t, svc, "alice")

	if _, err := svc.AuthenticateToken(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}

	if err := svc.SetUserStatus(context.Background(), principal.User.ID, UserStatusDisabled); err != nil {
		t.Fatalf("SetUserStatus: %v", err)
	}

	// Unexpired access token no longer authenticates, and the rejection
	// names the identity, not the token.
	if _, err := svc.AuthenticateToken(context.Background(), pair.AccessToken); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "alice", "password123"); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled on login, got %v", err)
	}
	// Refresh tokens were revoked on disable.
	if _, err := svc.RotateRefresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}

	// Re-enabling restores logins but not the revoked tokens.
	if err := svc.SetUserStatus(context.Background(), principal.User.ID, UserStatusActive); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "alice", "password123"); err != nil {
		t.Fatalf("login after re-enable: %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	svc, _, _ := newTestService(t)
	principal, pair := registerUser(t, svc, "alice")

	if err := svc.ChangePassword(context.Background(), principal.User.ID, "wrong", "newpassword1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong old password: expected ErrUnauthorized, got %v", err)
	}
	if err := svc.ChangePassword(context.Background(), principal.User.ID, "password123", "newpassword1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := svc.RotateRefresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected refresh token dead after password change, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "alice", "password123"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password should be rejected")
	}
	if _, _, err := svc.Login(context.Background(), "alice", "newpassword1"); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestSystemRoleGuards(t *testing.T) {
	svc, store, _ := newTestService(t)

	admin, err := store.Roles().FindByName(context.Background(), RoleAdmin)
	if err != nil {
		t.Fatalf("find admin role: %v", err)
	}

	if err := svc.RenameRole(context.Background(), admin.ID, "superadmin"); !errors.Is(err, ErrSystemRole) {
		t.Fatalf("rename system role: expected ErrSystemRole, got %v", err)
	}
	if err := svc.SetRolePermissions(context.Background(), admin.ID, []string{"board:view"}); !errors.Is(err, ErrSystemRole) {
		t.Fatalf("edit system role: expected ErrSystemRole, got %v", err)
	}
	if err := svc.DeleteRole(context.Background(), admin.ID); !errors.Is(err, ErrSystemRole) {
		t.Fatalf("delete system role: expected ErrSystemRole, got %v", err)
	}
}

func TestCustomRoleLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	principal, _ := registerUser(t, svc, "alice")

	role, err := svc.CreateRole(context.Background(), "Designer", []string{"board:view", "board:design"})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.Name != "designer" {
		t.Fatalf("role name should be folded, got %q", role.Name)
	}

	if _, err := svc.CreateRole(context.Background(), "designer", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate role: expected ErrConflict, got %v", err)
	}
	if _, err := svc.CreateRole(context.Background(), "broken", []string{"board:fly"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown permission: expected ErrInvalidInput, got %v", err)
	}

	if err := svc.AssignRole(context.Background(), principal.User.ID, role.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	ok, err := svc.Resolver().Can(context.Background(), principal.User.ID, PermBoardDesign)
	if err != nil || !ok {
		t.Fatalf("expected board:design after assignment, ok=%v err=%v", ok, err)
	}

	if err := svc.UnassignRole(context.Background(), principal.User.ID, role.ID); err != nil {
		t.Fatalf("UnassignRole: %v", err)
	}

	if err := svc.DeleteRole(context.Background(), role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if err := svc.AssignRole(context.Background(), principal.User.ID, role.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assigning deleted role: expected ErrNotFound, got %v", err)
	}
}

func TestEnsureBuiltinsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)

	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("second EnsureBuiltins: %v", err)
	}
	roles, err := store.Roles().List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("expected 3 builtin roles, got %d", len(roles))
	}
	for _, role := range roles {
		if !role.IsSystem {
			t.Fatalf("builtin role %s not marked system", role.Name)
		}
	}
}
