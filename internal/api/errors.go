package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrSessionExpired is returned when a 401 cannot be recovered by refreshing
// the access token. Callers should clear the session and ask the user to log in.
var ErrSessionExpired = errors.New("session expired")

// RequestError is a non-2xx response from the backend.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message())
}

// Message returns the server-provided text when there is one, otherwise a
// generic message for the status code.
func (e *RequestError) Message() string {
	if msg := strings.TrimSpace(e.Body); msg != "" {
		return msg
	}
	if text := http.StatusText(e.Status); text != "" {
		return strings.ToLower(text)
	}
	return "unexpected response"
}

// StatusOf returns the HTTP status carried by err, or 0 if err is not a
// RequestError.
func StatusOf(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	return 0
}
