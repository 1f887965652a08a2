package httpapi

import (
	"net/http"
	"strings"

	"paneldeck.org/internal/auth"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type renameRoleRequest struct {
	Name string `json:"name"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermissions(w, r, auth.PermRoleManage); !ok {
			return
		}
		roles, err := a.auth.ListRoles(r.Context())
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if _, ok := a.ensurePermissions(w, r, auth.PermRoleManage); !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.auth.CreateRole(r.Context(), req.Name, req.Permissions)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "role.created", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		writeJSON(w, http.StatusCreated, map[string]any{"role": role})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleResource routes /v1/roles/{id} and /v1/roles/{id}/permissions.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	parts := strings.Split(rest, "/")
	roleID := parts[0]
	if roleID == "" {
		http.NotFound(w, r)
		return
	}
	if _, ok := a.ensurePermissions(w, r, auth.PermRoleManage); !ok {
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodPatch:
			var req renameRoleRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			if err := a.auth.RenameRole(r.Context(), roleID, req.Name); err != nil {
				a.handleAuthError(w, r, err)
				return
			}
			a.audit(r.Context(), "role.renamed", map[string]any{
				"role_id": roleID,
				"name":    req.Name,
			})
			writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
		case http.MethodDelete:
			if err := a.auth.DeleteRole(r.Context(), roleID); err != nil {
				a.handleAuthError(w, r, err)
				return
			}
			a.audit(r.Context(), "role.deleted", map[string]any{
				"role_id": roleID,
			})
			writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
		default:
			methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "permissions":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req setPermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.auth.SetRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "role.permissions_updated", map[string]any{
			"role_id":     roleID,
			"permissions": req.Permissions,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermissions(w, r, auth.PermUserManage); !ok {
		return
	}
	users, err := a.auth.ListUsers(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleUserResource routes /v1/users/{id}, /v1/users/{id}/roles,
// /v1/users/{id}/roles/{roleID} and /v1/users/{id}/status.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(rest, "/")
	userID := parts[0]
	if userID == "" {
		http.NotFound(w, r)
		return
	}
	if _, ok := a.ensurePermissions(w, r, auth.PermUserManage); !ok {
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		user, err := a.auth.GetUser(r.Context(), userID)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		perms, err := a.auth.Resolver().EffectivePermissions(r.Context(), userID)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":        user,
			"permissions": perms.Strings(),
		})
	case len(parts) == 2 && parts[1] == "roles":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.auth.AssignRole(r.Context(), userID, req.RoleID); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "user.role_assigned", map[string]any{
			"target_user_id": userID,
			"role_id":        req.RoleID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "assigned"})
	case len(parts) == 3 && parts[1] == "roles":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		roleID := parts[2]
		if err := a.auth.UnassignRole(r.Context(), userID, roleID); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "user.role_unassigned", map[string]any{
			"target_user_id": userID,
			"role_id":        roleID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "unassigned"})
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req setStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.auth.SetUserStatus(r.Context(), userID, req.Status); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "user.status_changed", map[string]any{
			"target_user_id": userID,
			"status":         req.Status,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
	default:
		http.NotFound(w, r)
	}
}
