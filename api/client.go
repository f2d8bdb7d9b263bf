// Package api is the HTTP client for the forum's pull endpoints.
//
// Every request carries the session: the session-token cookie (kept in a
// cookie jar, so a login response refreshes it) and, when the token is a JWT,
// an Authorization: Bearer header too. Responses go through
// pkg.DecodeResponse, so non-2xx statuses come back as *pkg.FetchError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg"
)

// SessionCookie is the name of the cookie the server authenticates with.
const SessionCookie = "session-token"

// Client talks to the pull endpoints of one server.
type Client struct {
	baseURL *url.URL
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client for baseURL (e.g. http://localhost:8080/api).
// token may be empty; it is filled by Login.
func NewClient(baseURL string, timeout time.Duration, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout, Jar: jar},
	}
	if token != "" {
		c.SetToken(token)
	}
	return c, nil
}

// SetToken replaces the session token and stores it in the cookie jar.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.http.Jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:  SessionCookie,
		Value: token,
		Path:  "/",
	}})
}

// Token returns the current session token, preferring the cookie jar (the
// server may have rotated it) over the configured value.
func (c *Client) Token() string {
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name == SessionCookie && ck.Value != "" {
			return ck.Value
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// AuthHeader returns the headers that authenticate the websocket handshake,
// which does not go through the cookie jar.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	token := c.Token()
	if token == "" {
		return h
	}
	h.Set("Cookie", (&http.Cookie{Name: SessionCookie, Value: token}).String())
	if looksLikeJWT(token) {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// Session returns the authenticated user (GET /session).
// An expired JWT fails with ErrUnauthorized without a network round trip.
func (c *Client) Session(ctx context.Context) (*models.Session, error) {
	if err := InspectToken(c.Token()); err != nil {
		return nil, err
	}

	var s models.Session
	if err := c.do(ctx, http.MethodGet, "/session", nil, nil, &s); err != nil {
		return nil, err
	}
	if s.UserID == "" {
		return nil, fmt.Errorf("%w: session without user id", pkg.ErrMalformedPayload)
	}
	return &s, nil
}

// Login posts credentials (POST /login). The server answers with the
// session user and sets the session cookie.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodPost, "/login", nil, req, &s); err != nil {
		return nil, err
	}
	if s.UserID == "" {
		return nil, fmt.Errorf("%w: login without user id", pkg.ErrMalformedPayload)
	}
	return &s, nil
}

// Logout ends the server session (POST /logout). The response body is
// ignored.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil, nil)
}

// Users returns the full roster (GET /users).
func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// History returns at most limit messages exchanged with peerID, newest
// first, skipping the offset newest ones (GET /chat/history).
func (c *Client) History(ctx context.Context, peerID string, limit, offset int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("with", peerID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var messages []models.Message
	if err := c.do(ctx, http.MethodGet, "/chat/history", q, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// do sends one request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); looksLikeJWT(token) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", pkg.ErrFetch, method, path, err)
	}
	defer resp.Body.Close()

	return pkg.DecodeResponse(resp, path, out)
}
