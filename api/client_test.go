package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg"
)

// newForumServer fakes the forum API under /api. Only requests carrying the
// session cookie "good" are authenticated.
func newForumServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	authed := func(r *http.Request) bool {
		ck, err := r.Cookie(SessionCookie)
		return err == nil && ck.Value == "good"
	}

	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Identifier != "al" || req.Password != "secret" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "good", Path: "/"})
		w.Write([]byte(`{"id":"u-al","nickname":"al"}`))
	})
	mux.HandleFunc("POST /api/logout", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Logout successful"))
	})
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"success":true,"data":{"id":"u-al","nickname":"al"}}`))
	})
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[{"id":"u-bo","nickname":"bo","online":true,"last_message":"hey","last_message_time":"2026-03-01T10:00:00Z"},{"id":"u-cy","nickname":"cy","online":false}]`))
	})
	mux.HandleFunc("GET /api/chat/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "u-bo", q.Get("with"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.Equal(t, "20", q.Get("offset"))
		w.Write([]byte(`[{"sender_id":"u-bo","receiver_id":"u-al","content":"newest","created_at":"2026-03-01T10:00:00Z"}]`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginThenAuthenticatedCalls(t *testing.T) {
	srv := newForumServer(t)
	client, err := NewClient(srv.URL+"/api/", time.Second, "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Users(ctx)
	assert.ErrorIs(t, err, pkg.ErrUnauthorized)

	_, err = client.Login(ctx, models.LoginRequest{Identifier: "al", Password: "wrong"})
	var fe *pkg.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "invalid credentials", fe.Body)

	user, err := client.Login(ctx, models.LoginRequest{Identifier: "al", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, models.Session{UserID: "u-al", Nickname: "al"}, *user)
	assert.Equal(t, "good", client.Token())

	session, err := client.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u-al", session.UserID)

	users, err := client.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	p, ok := users[0].EmbeddedPreview()
	require.True(t, ok)
	assert.Equal(t, "hey", p.LastMessageContent)
	_, ok = users[1].EmbeddedPreview()
	assert.False(t, ok)

	require.NoError(t, client.Logout(ctx))
}

func TestConfiguredToken(t *testing.T) {
	srv := newForumServer(t)
	client, err := NewClient(srv.URL+"/api", time.Second, "good")
	require.NoError(t, err)

	session, err := client.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "al", session.Nickname)

	h := client.AuthHeader()
	assert.Equal(t, "session-token=good", h.Get("Cookie"))
	assert.Empty(t, h.Get("Authorization"), "opaque tokens are not sent as bearer")
}

func TestHistoryQuery(t *testing.T) {
	srv := newForumServer(t)
	client, err := NewClient(srv.URL+"/api", time.Second, "good")
	require.NoError(t, err)

	messages, err := client.History(context.Background(), "u-bo", 10, 20)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "newest", messages[0].Content)
	assert.Equal(t, "u-al", messages[0].PeerOf("u-bo"))
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := NewClient(srv.URL, 200*time.Millisecond, "")
	require.NoError(t, err)

	_, err = client.Users(context.Background())
	assert.ErrorIs(t, err, pkg.ErrFetch)
	assert.NotErrorIs(t, err, pkg.ErrUnauthorized)
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-al",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return s
}

func TestInspectToken(t *testing.T) {
	assert.NoError(t, InspectToken(""))
	assert.NoError(t, InspectToken("opaque-uuid-token"))
	assert.NoError(t, InspectToken(signed(t, time.Now().Add(time.Hour))))

	err := InspectToken(signed(t, time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, err, pkg.ErrUnauthorized)

	err = InspectToken("not.a.jwt")
	assert.ErrorIs(t, err, pkg.ErrUnauthorized)
}

func TestExpiredJWTSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	expired := signed(t, time.Now().Add(-time.Hour))
	client, err := NewClient(srv.URL, time.Second, expired)
	require.NoError(t, err)

	_, err = client.Session(context.Background())
	assert.ErrorIs(t, err, pkg.ErrUnauthorized)
	assert.Zero(t, calls)

	assert.Equal(t, "Bearer "+expired, client.AuthHeader().Get("Authorization"))
}
