package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Machine codes surfaced by the API on 401/403 responses.
const (
	CodeTokenExpired     = "token_expired"
	CodeTokenRevoked     = "token_revoked"
	CodeReuseDetected    = "reuse_detected"
	CodeInvalidToken     = "invalid_token"
	CodeIdentityRejected = "identity_rejected"
	CodePermissionDenied = "permission_denied"
)

var (
	// ErrNoSession means an operation needing credentials ran without any.
	ErrNoSession = errors.New("client: no active session")

	// ErrSessionEnded means the session was torn down because the server
	// rejected the refresh token. The user must log in again.
	ErrSessionEnded = errors.New("client: session ended")

	// ErrSessionReplaced means a refresh settled after the session it was
	// started for had been cleared or replaced. Its result was discarded;
	// whatever session is current now is untouched.
	ErrSessionReplaced = errors.New("client: session replaced during refresh")
)

// APIError is a structured error response from the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// parseAPIError drains the response body into an APIError. The body is
// consumed; callers pass responses they will not use further.
func parseAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	defer resp.Body.Close()
	var payload struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiErr
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}
	if payload.Error != "" {
		apiErr.Message = payload.Error
	}
	apiErr.Code = payload.Code
	apiErr.RequestID = payload.RequestID
	return apiErr
}

// errorCode peeks at a 401/403 body without consuming the original response:
// the body is read fully, then replaced so callers can still hand the
// response to the application.
func errorCode(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Code
}
