package pkg

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchErrorUnwrap(t *testing.T) {
	err := &FetchError{Path: "/users", Status: http.StatusUnauthorized}

	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "GET /users: status 401", err.Error())

	wrapped := fmt.Errorf("roster: %w", &FetchError{Method: http.MethodPost, Path: "/login", Status: 500, Body: "boom"})
	assert.ErrorIs(t, wrapped, ErrFetch)
	assert.NotErrorIs(t, wrapped, ErrUnauthorized)
	assert.Contains(t, wrapped.Error(), "POST /login: status 500: boom")

	var fe *FetchError
	assert.True(t, errors.As(wrapped, &fe))
	assert.Equal(t, 500, fe.Status)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Empty(t, UserMessage(errors.New("random")))
	assert.Empty(t, UserMessage(ErrLoadInFlight))

	assert.Contains(t, UserMessage(ErrNoPeerSelected), "select a user")
	assert.Contains(t, UserMessage(fmt.Errorf("send: %w", ErrChannelNotReady)), "Not connected")
	assert.Contains(t, UserMessage(ErrEmptyContent), "Type a message")
	assert.Contains(t, UserMessage(ErrRateLimited), "too fast")
	assert.Contains(t, UserMessage(&FetchError{Path: "/session", Status: 403}), "log in again")
}
