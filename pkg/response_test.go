package pkg

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	req, _ := http.NewRequest(http.MethodGet, "http://forum.test/api/users", nil)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

type user struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

func TestDecodeResponseRaw(t *testing.T) {
	var users []user
	err := DecodeResponse(response(200, `[{"id":"u1","nickname":"al"}]`), "/users", &users)

	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "al", users[0].Nickname)
}

func TestDecodeResponseEnvelope(t *testing.T) {
	var u user
	err := DecodeResponse(response(200, `{"success":true,"data":{"id":"u2","nickname":"bo"}}`), "/session", &u)

	require.NoError(t, err)
	assert.Equal(t, "u2", u.ID)
}

func TestDecodeResponseFailedEnvelope(t *testing.T) {
	var u user
	err := DecodeResponse(response(200, `{"success":false,"error":"nope"}`), "/session", &u)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "nope", fe.Body)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestDecodeResponseStatus(t *testing.T) {
	err := DecodeResponse(response(http.StatusUnauthorized, `{"error":"invalid session"}`), "/users", nil)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "invalid session", fe.Body)
	assert.Equal(t, http.MethodGet, fe.Method)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDecodeResponseEmptyAndMalformed(t *testing.T) {
	var u user
	require.NoError(t, DecodeResponse(response(200, "  "), "/logout", &u))
	require.NoError(t, DecodeResponse(response(200, "Logout successful"), "/logout", nil))

	err := DecodeResponse(response(200, "{broken"), "/users", &u)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
