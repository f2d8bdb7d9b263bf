// Package pkg holds utilities shared across the client packages.
// This file defines the domain-level errors.
//
// Errors are plain sentinel values compared with errors.Is, so wrapped
// errors still match:
//
//	if errors.Is(err, pkg.ErrChannelNotReady) { ... }
package pkg

import (
	"errors"
	"fmt"
	"net/http"
)

// Transport and payload errors.
var (
	ErrTransport        = errors.New("push channel unavailable")
	ErrFetch            = errors.New("fetch failed")
	ErrChannelNotReady  = errors.New("chat connection is not open")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrAlreadyOpen      = errors.New("push channel already open")
)

// Request-level errors. Most of these are user-facing: see UserMessage.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
	ErrBadRequest     = errors.New("bad request")
	ErrNoPeerSelected = errors.New("no conversation selected")
	ErrEmptyContent   = errors.New("message content is required")
	ErrRateLimited    = errors.New("sending too fast")
	ErrLoadInFlight   = errors.New("history load already in flight")
	ErrSessionClosed  = errors.New("session closed")
)

// FetchError is a non-success HTTP status from a pull endpoint.
type FetchError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *FetchError) Error() string {
	method := e.Method
	if method == "" {
		method = http.MethodGet
	}
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", method, e.Path, e.Status)
}

// Unwrap exposes ErrFetch plus the sentinel matching the status code, so
// callers can test for either.
func (e *FetchError) Unwrap() []error {
	errs := []error{ErrFetch}
	if sentinel := mapStatusToError(e.Status); sentinel != nil {
		errs = append(errs, sentinel)
	}
	return errs
}

// mapStatusToError maps HTTP status codes to domain errors. It is the
// client-side inverse of the server's error → status mapping.
func mapStatusToError(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrBadRequest
	default:
		return nil
	}
}

// UserMessage returns the guidance text shown to the user for err, or an
// empty string when err is not meant to reach the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoPeerSelected):
		return "Please select a user from the list to start a conversation."
	case errors.Is(err, ErrEmptyContent):
		return "Type a message before sending."
	case errors.Is(err, ErrChannelNotReady):
		return "Not connected to chat. Your message was not sent; it will stay in the input box."
	case errors.Is(err, ErrRateLimited):
		return "You are sending messages too fast. Wait a few seconds and try again."
	case errors.Is(err, ErrBadRequest):
		return "Message rejected: " + err.Error()
	case errors.Is(err, ErrUnauthorized):
		return "Your session has expired. Please log in again."
	default:
		return ""
	}
}
