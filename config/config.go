// Package config loads the client configuration from environment variables.
// A .env file in the working directory is read first when present.
//
// Every section is its own struct so each component only receives the part it
// needs (the roster service gets ChatConfig, the channel gets
// ReconnectConfig, and so on).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/akinalp/forumchat/pkg/crypto"
)

// Config carries every configuration value of the client.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Chat      ChatConfig
	Reconnect ReconnectConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig locates the forum server.
type ServerConfig struct {
	BaseURL        string        // e.g. http://localhost:8080/api
	WebSocketURL   string        // optional; derived from BaseURL when empty
	RequestTimeout time.Duration // per pull request
}

// AuthConfig carries optional credentials. With a SessionToken the client
// skips the login form; with Identifier and Password it logs in on start.
type AuthConfig struct {
	SessionToken  string
	Identifier    string
	Password      string
	// LoginAttempts is the number of attempts per identifier per
	// LoginWindow; 0 disables the throttle.
	LoginAttempts int
	LoginWindow   time.Duration
}

// ChatConfig tunes the messaging components.
type ChatConfig struct {
	HistoryLimit   int           // page size of the history pager
	RosterInterval time.Duration // GET /users polling period
	RosterDebounce time.Duration // coalescing window for on-demand refreshes
	NoticeTTL      time.Duration // lifetime of a notification popup
	SendRateMax    int           // messages per window per conversation; 0 disables
	SendRateWindow time.Duration
	SendCooldown   time.Duration
}

// ReconnectConfig is the push channel backoff policy.
type ReconnectConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int // 0 = retry until logout
}

// CacheConfig locates the local preview cache.
type CacheConfig struct {
	Path          string // SQLite file; empty disables the cache
	EncryptionKey []byte // nil = previews stored in clear
}

// LogConfig controls where log output goes while the terminal UI runs.
type LogConfig struct {
	File string
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	// A missing .env is fine: real environment variables are used then.
	_ = godotenv.Load()

	baseURL := strings.TrimRight(getEnv("FORUMCHAT_BASE_URL", "http://localhost:8080/api"), "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid FORUMCHAT_BASE_URL: %w", err)
	}

	requestTimeout, err := getDuration("FORUMCHAT_REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	historyLimit, err := getInt("FORUMCHAT_HISTORY_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	if historyLimit < 1 {
		return nil, fmt.Errorf("FORUMCHAT_HISTORY_LIMIT must be at least 1")
	}

	rosterInterval, err := getDuration("FORUMCHAT_ROSTER_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	rosterDebounce, err := getDuration("FORUMCHAT_ROSTER_DEBOUNCE", 150*time.Millisecond)
	if err != nil {
		return nil, err
	}
	noticeTTL, err := getDuration("FORUMCHAT_NOTICE_TTL", 5*time.Second)
	if err != nil {
		return nil, err
	}

	sendRateMax, err := getInt("FORUMCHAT_SEND_RATE_MAX", 5)
	if err != nil {
		return nil, err
	}
	sendRateWindow, err := getDuration("FORUMCHAT_SEND_RATE_WINDOW", 5*time.Second)
	if err != nil {
		return nil, err
	}
	sendCooldown, err := getDuration("FORUMCHAT_SEND_COOLDOWN", 10*time.Second)
	if err != nil {
		return nil, err
	}

	reconnectInitial, err := getDuration("FORUMCHAT_RECONNECT_INITIAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	reconnectMax, err := getDuration("FORUMCHAT_RECONNECT_MAX", 30*time.Second)
	if err != nil {
		return nil, err
	}
	reconnectAttempts, err := getInt("FORUMCHAT_RECONNECT_ATTEMPTS", 0)
	if err != nil {
		return nil, err
	}

	loginAttempts, err := getInt("FORUMCHAT_LOGIN_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	loginWindow, err := getDuration("FORUMCHAT_LOGIN_WINDOW", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	var cacheKey []byte
	if hexKey := getEnv("FORUMCHAT_CACHE_KEY", ""); hexKey != "" {
		cacheKey, err = crypto.DeriveKey(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid FORUMCHAT_CACHE_KEY: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			BaseURL:        baseURL,
			WebSocketURL:   getEnv("FORUMCHAT_WS_URL", ""),
			RequestTimeout: requestTimeout,
		},
		Auth: AuthConfig{
			SessionToken:  getEnv("FORUMCHAT_SESSION_TOKEN", ""),
			Identifier:    getEnv("FORUMCHAT_IDENTIFIER", ""),
			Password:      getEnv("FORUMCHAT_PASSWORD", ""),
			LoginAttempts: loginAttempts,
			LoginWindow:   loginWindow,
		},
		Chat: ChatConfig{
			HistoryLimit:   historyLimit,
			RosterInterval: rosterInterval,
			RosterDebounce: rosterDebounce,
			NoticeTTL:      noticeTTL,
			SendRateMax:    sendRateMax,
			SendRateWindow: sendRateWindow,
			SendCooldown:   sendCooldown,
		},
		Reconnect: ReconnectConfig{
			Initial:     reconnectInitial,
			Max:         reconnectMax,
			MaxAttempts: reconnectAttempts,
		},
		Cache: CacheConfig{
			Path:          getEnv("FORUMCHAT_CACHE_PATH", "./data/forumchat.db"),
			EncryptionKey: cacheKey,
		},
		Log: LogConfig{
			File: getEnv("FORUMCHAT_LOG_FILE", "forumchat.log"),
		},
	}

	return cfg, nil
}

// ChatURL returns the websocket endpoint, derived from the base URL unless
// FORUMCHAT_WS_URL overrides it: http→ws, https→wss, path + "/chat".
func (c *ServerConfig) ChatURL() (string, error) {
	raw := c.WebSocketURL
	if raw == "" {
		raw = c.BaseURL + "/chat"
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid chat url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported chat url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// getEnv reads an environment variable with a fallback.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
