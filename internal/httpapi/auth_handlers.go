package httpapi

import (
	"errors"
	"net/http"

	"paneldeck.org/internal/auth"
	"paneldeck.org/internal/obs"
)

type credentialsRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type updateProfileRequest struct {
	DisplayName string     `json:"display_name"`
	Prefs       auth.Prefs `json:"prefs"`
}

type sessionResponse struct {
	User        *auth.User     `json:"user"`
	Permissions []string       `json:"permissions"`
	Tokens      auth.TokenPair `json:"tokens"`
}

func sessionPayload(p auth.Principal, pair auth.TokenPair) sessionResponse {
	return sessionResponse{
		User:        p.User,
		Permissions: p.Permissions.Strings(),
		Tokens:      pair,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, pair, err := a.auth.Register(r.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.registered", map[string]any{
		"user_id":  principal.User.ID,
		"username": principal.User.Username,
	})
	writeJSON(w, http.StatusCreated, sessionPayload(principal, pair))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, pair, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		obs.LoginsTotal.WithLabelValues("failure").Inc()
		a.audit(r.Context(), "auth.login_failed", map[string]any{
			"username": req.Username,
		})
		a.handleAuthError(w, r, err)
		return
	}
	obs.LoginsTotal.WithLabelValues("success").Inc()
	a.audit(r.Context(), "auth.login", map[string]any{
		"user_id": principal.User.ID,
	})
	writeJSON(w, http.StatusOK, sessionPayload(principal, pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.auth.RotateRefresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrReuseDetected) {
			a.audit(r.Context(), "auth.refresh_reuse_detected", nil)
		}
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"user":        principal.User,
			"permissions": principal.Permissions.Strings(),
		})
	case http.MethodPatch:
		var req updateProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.auth.UpdateProfile(r.Context(), principal.User.ID, req.DisplayName, req.Prefs); err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		user, err := a.auth.GetUser(r.Context(), principal.User.ID)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, r, http.StatusUnauthorized, codeInvalidToken, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ChangePassword(r.Context(), principal.User.ID, req.OldPassword, req.NewPassword); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.password_changed", map[string]any{
		"user_id": principal.User.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}
