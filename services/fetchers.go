package services

import (
	"context"

	"github.com/akinalp/forumchat/models"
)

// The services depend on these narrow interfaces instead of *api.Client and
// *ws.Channel, so each one can be tested against a stub.

// RosterFetcher fetches the full user list (GET /users).
type RosterFetcher interface {
	Users(ctx context.Context) ([]models.User, error)
}

// HistoryFetcher fetches one page of history, newest first
// (GET /chat/history).
type HistoryFetcher interface {
	History(ctx context.Context, peerID string, limit, offset int) ([]models.Message, error)
}

// MessageSender transmits an outbound message over the push channel.
type MessageSender interface {
	Send(req models.SendMessageRequest) error
}

// SessionAPI is the authentication part of the pull API.
type SessionAPI interface {
	Session(ctx context.Context) (*models.Session, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.Session, error)
	Logout(ctx context.Context) error
}
