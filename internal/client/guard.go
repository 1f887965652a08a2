package client

import (
	"net/url"

	"paneldeck.org/internal/auth"
)

// Route is a navigable destination with its permission requirements.
type Route struct {
	Path     string
	Required []auth.Permission
}

// Decision is the guard's verdict: allow, or redirect elsewhere.
type Decision struct {
	Allow    bool
	Redirect string
}

// Guard gates navigation on the session's permission snapshot. It is a UX
// device, not a security boundary; every API call is still authorized
// server-side.
type Guard struct {
	store         *SessionStore
	loginPath     string
	forbiddenPath string
}

// NewGuard constructs a Guard with the default /login and /forbidden
// destinations.
func NewGuard(store *SessionStore) *Guard {
	return &Guard{
		store:         store,
		loginPath:     "/login",
		forbiddenPath: "/forbidden",
	}
}

// Check decides whether the current session may enter the route. With no
// session the user is sent to login with the destination preserved, so a
// successful login can resume where navigation was interrupted.
func (g *Guard) Check(route Route) Decision {
	sess, _, ok := g.store.Current()
	if !ok {
		redirect := g.loginPath
		if route.Path != "" {
			redirect += "?next=" + url.QueryEscape(route.Path)
		}
		return Decision{Redirect: redirect}
	}
	for _, perm := range route.Required {
		if !sess.HasPermission(perm) {
			return Decision{Redirect: g.forbiddenPath}
		}
	}
	return Decision{Allow: true}
}
