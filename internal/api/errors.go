package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"waiting-client/internal/status"
)

// APIError is a non-2xx reply from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels so callers can use
// errors.Is without knowing about HTTP.
func (e *APIError) Is(target error) bool {
	switch target {
	case status.ErrAlreadyJoined:
		return e.StatusCode == http.StatusConflict
	case status.ErrSessionExpired:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

func newAPIError(resp *http.Response, method, path string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var reply struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &reply); err == nil {
		msg = reply.Message
		if msg == "" {
			msg = reply.Error
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

// Message returns the text a user should see for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	switch {
	case errors.Is(err, status.ErrLoginRequired):
		return "Please log in first."
	case errors.Is(err, status.ErrSessionExpired):
		return "Your session has expired. Please log in again."
	}
	return err.Error()
}
