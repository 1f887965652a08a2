package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"missing", "", "", false},
		{"valid", "Bearer abc.def", "abc.def", true},
		{"lowercase scheme", "bearer abc.def", "abc.def", true},
		{"no scheme", "abc.def", "", false},
		{"empty token", "Bearer ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, ok := bearerToken(r)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("bearerToken(%q) = (%q, %v), want (%q, %v)", tc.header, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestMissingBearerTokenOnProtectedPath(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/auth/me", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if code := errCode(t, resp); code != codeInvalidToken {
		t.Fatalf("expected code %q, got %q", codeInvalidToken, code)
	}
}

func TestGarbageBearerToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/auth/me", nil, "not-a-jwt")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if code := errCode(t, resp); code != codeInvalidToken {
		t.Fatalf("expected code %q, got %q", codeInvalidToken, code)
	}
}

func TestPublicPathsSkipAuth(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/metrics"} {
		resp := c.do(http.MethodGet, path, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestWrongSignatureToken(t *testing.T) {
	c := newTestAPI(t)
	c.register("alice", "password123")

	// Token signed with a different secret.
	other := newTestAPIWithSecret(t, "other-secret")
	foreign := other.register("alice", "password123")

	resp := c.do(http.MethodGet, "/v1/auth/me", nil, foreign.Tokens.AccessToken)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
