package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/auth/login":            "/v1/auth/login",
		"/v1/auth/refresh?src=web":  "/v1/auth/refresh",
		"/v1/roles/01HZX3":          "/v1/roles/:id",
		"/v1/roles/01HZX3/assign":   "/v1/roles/:id/assign",
		"/v1/users/01HZX3":          "/v1/users/:id",
		"/v1/users/01HZX3/password": "/v1/users/:id/password",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
