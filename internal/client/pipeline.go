package client

import (
	"errors"
	"net/http"
	"strings"
)

// authPaths never go through the refresh-and-retry cycle: their 401s are
// answers (bad credentials, dead refresh token), not staleness. Re-entering
// refresh from the refresh endpoint's own 401 would recurse.
var authPaths = map[string]bool{
	"/v1/auth/register": true,
	"/v1/auth/login":    true,
	"/v1/auth/refresh":  true,
	"/v1/auth/logout":   true,
}

// Pipeline dispatches API requests with the current access token attached
// and transparently recovers from access token expiry: on a 401 with code
// token_expired it refreshes once and retries the request exactly once. Any
// other 401, or a failed refresh, ends the session.
type Pipeline struct {
	httpClient   *http.Client
	store        *SessionStore
	coordinator  *Coordinator
	onSessionEnd func()
}

// NewPipeline constructs a Pipeline. onSessionEnd may be nil.
func NewPipeline(httpClient *http.Client, store *SessionStore, coordinator *Coordinator, onSessionEnd func()) *Pipeline {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Pipeline{
		httpClient:   httpClient,
		store:        store,
		coordinator:  coordinator,
		onSessionEnd: onSessionEnd,
	}
}

// Do executes the request. Requests needing a replayable body must carry
// GetBody (http.NewRequest sets it for common body types).
func (p *Pipeline) Do(req *http.Request) (*http.Response, error) {
	// Auth endpoints carry their own credentials (password or refresh token
	// in the body); a bearer header there is never meaningful.
	if !isAuthPath(req.URL.Path) {
		if sess, _, ok := p.store.Current(); ok && sess.Tokens.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+sess.Tokens.AccessToken)
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if isAuthPath(req.URL.Path) {
		return resp, nil
	}
	if resp.StatusCode == http.StatusForbidden {
		// An identity rejection (disabled account) is unambiguous: the
		// session is dead no matter how fresh the tokens are. Plain
		// permission denials pass through untouched.
		if errorCode(resp) == CodeIdentityRejected {
			p.teardown()
		}
		return resp, nil
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	code := errorCode(resp)
	if code != CodeTokenExpired {
		// Revoked, reused or malformed: refreshing cannot help.
		p.teardown()
		return resp, nil
	}

	sess, _, ok := p.store.Current()
	if !ok || sess.Tokens.RefreshToken == "" {
		p.teardown()
		return resp, nil
	}

	pair, err := p.coordinator.Refresh(req.Context())
	if err != nil {
		// The coordinator owns teardown for its own failures. ErrSessionEnded
		// means it already cleared the session and notified; ErrSessionReplaced
		// and ErrNoSession mean this request belonged to a session that no
		// longer exists and whatever is current now must be left alone. Either
		// way the 401 goes to the caller.
		if errors.Is(err, ErrSessionEnded) || errors.Is(err, ErrNoSession) || errors.Is(err, ErrSessionReplaced) {
			return resp, nil
		}
		resp.Body.Close()
		return nil, err
	}

	retry, err := cloneRequest(req)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	retry.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	resp.Body.Close()

	retryResp, err := p.httpClient.Do(retry)
	if err != nil {
		return nil, err
	}
	if retryResp.StatusCode == http.StatusUnauthorized {
		// One retry only. A second 401 means the session is unusable.
		p.teardown()
	}
	return retryResp, nil
}

func (p *Pipeline) teardown() {
	if p.store.Clear() && p.onSessionEnd != nil {
		p.onSessionEnd()
	}
}

func isAuthPath(path string) bool {
	return authPaths[strings.TrimSuffix(path, "/")]
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.GetBody == nil {
		retry.Body = nil
		return retry, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}
