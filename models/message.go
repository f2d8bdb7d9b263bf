package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength is the longest message content accepted, in runes.
const MaxMessageLength = 2000

// Message is one direct message, either pulled from GET /chat/history or
// pushed over the chat websocket.
//
// Messages are immutable once created. The ordering key is CreatedAt; ties
// are broken by arrival order within a single fetch or push batch.
// The history endpoint does not return sender_nickname, so SenderNickname may
// be empty on pulled rows.
type Message struct {
	ID             string    `json:"id,omitempty"`
	SenderID       string    `json:"sender_id"`
	SenderNickname string    `json:"sender_nickname,omitempty"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// PeerOf returns the participant that is not localUserID.
// A message a user sent to themself has the local user as peer.
func (m Message) PeerOf(localUserID string) string {
	if m.SenderID == localUserID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether peerID is the sender or the receiver.
func (m Message) Involves(peerID string) bool {
	return peerID != "" && (m.SenderID == peerID || m.ReceiverID == peerID)
}

// DisplayName returns the sender nickname, falling back to the sender id.
func (m Message) DisplayName() string {
	if m.SenderNickname != "" {
		return m.SenderNickname
	}
	return m.SenderID
}

// SameAs reports whether two messages are the same row. Server ids are used
// when both sides carry one; otherwise the full tuple is compared, which is
// what a pushed frame and the matching history row have in common.
func (m Message) SameAs(o Message) bool {
	if m.ID != "" && o.ID != "" {
		return m.ID == o.ID
	}
	return m.SenderID == o.SenderID &&
		m.ReceiverID == o.ReceiverID &&
		m.Content == o.Content &&
		m.CreatedAt.Equal(o.CreatedAt)
}

// Preview converts the message into the preview for the conversation with
// the non-local participant.
func (m Message) Preview(localUserID string) ConversationPreview {
	return ConversationPreview{
		PeerID:             m.PeerOf(localUserID),
		LastMessageContent: m.Content,
		LastMessageTime:    m.CreatedAt,
	}
}

// SendMessageRequest is the outbound chat frame. The server stamps
// created_at, so the client never sends it.
type SendMessageRequest struct {
	SenderID       string `json:"sender_id"`
	SenderNickname string `json:"sender_nickname"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
}

// Validate trims the content and checks it is non-empty and at most
// MaxMessageLength runes.
func (r *SendMessageRequest) Validate() error {
	r.Content = strings.TrimSpace(r.Content)
	contentLen := utf8.RuneCountInString(r.Content)

	if contentLen < 1 {
		return fmt.Errorf("message content is required")
	}
	if contentLen > MaxMessageLength {
		return fmt.Errorf("message content must be at most %d characters", MaxMessageLength)
	}
	if r.ReceiverID == "" {
		return fmt.Errorf("receiver is required")
	}
	return nil
}
