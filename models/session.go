package models

import "time"

// Session is the authenticated local user, as returned by GET /session.
// It is created at login or session check and destroyed at logout; the push
// channel lives exactly as long as the session.
type Session struct {
	UserID   string `json:"id"`
	Nickname string `json:"nickname"`
}

// LoginRequest is the POST /login body. Identifier is a nickname or an email.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// ChannelState is the push channel lifecycle.
type ChannelState string

const (
	ChannelDisconnected ChannelState = "disconnected"
	ChannelConnecting   ChannelState = "connecting"
	ChannelOpen         ChannelState = "open"
	ChannelClosed       ChannelState = "closed"
)

// Notice is a transient popup for a message from a peer whose conversation
// is not open.
type Notice struct {
	ID             string
	SenderID       string
	SenderNickname string
	Preview        string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}
