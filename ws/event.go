// Package ws owns the chat push channel and the client-side event hub.
//
// Architecture:
//   - Channel: the single websocket connection of a session (state machine,
//     reconnect with backoff, frame parsing).
//   - connection: the read and write pumps of one live websocket.
//   - Hub: in-process publish/subscribe. The channel publishes what arrives;
//     services subscribe to the ops they care about and publish their own
//     results (roster updates, history pages, notices) for the renderer.
//
// Event flow for an inbound message:
//  1. The read pump receives a frame and hands it to the Channel.
//  2. The Channel parses it, freshens the conversation preview and publishes
//     OpMessage on the Hub.
//  3. Subscribers (conversation view, notifier, roster) run synchronously on
//     the read goroutine, in subscription order.
//  4. The renderer receives the resulting view events through its own
//     subscription.
package ws

import (
	"time"

	"github.com/akinalp/forumchat/models"
)

// Event is one hub event and, for frames carrying an op, the wire envelope
// as well.
//
// Op: event type ("message", "presence_changed", ...).
// Data: op-specific payload, typed per the constants below.
// Seq: increasing number stamped by the Hub on publish.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// ────────────────────────────────────────────
// Operations
// ────────────────────────────────────────────

// Wire operations carried in the {op,d} envelope. Message frames have no
// envelope: a bare message object is an OpMessage.
const (
	OpPresenceUpdate   = "presence_update"   // d: PresenceData
	OpRosterInvalidate = "roster_invalidate" // no payload
)

// Hub operations published by the Channel.
const (
	OpMessage         = "message"          // Data: models.Message
	OpPresenceChanged = "presence_changed" // Data: PresenceData
	OpChannelClosed   = "channel_closed"   // Data: ChannelClosedData
	OpChannelState    = "channel_state"    // Data: ChannelStateData
	OpRosterRefresh   = "roster_refresh"   // no payload; asks the roster to refetch
)

// Hub operations published by the services for the renderer.
const (
	OpRosterUpdate       = "roster_update"       // Data: models.Roster
	OpHistoryLoaded      = "history_loaded"      // Data: HistoryLoadedData
	OpConversationUpdate = "conversation_update" // Data: ConversationData
	OpNotice             = "notice"              // Data: models.Notice
	OpNoticeDismiss      = "notice_dismiss"      // Data: NoticeDismissData
)

// ────────────────────────────────────────────
// Payloads
// ────────────────────────────────────────────

// PresenceData is the payload of OpPresenceUpdate frames and of
// OpPresenceChanged events.
type PresenceData struct {
	UserID string `json:"user_id"`
	Status string `json:"status"` // "online" | "offline"
}

// Online reports whether the status counts as online.
func (p PresenceData) Online() bool {
	return p.Status == "online"
}

// ChannelStateData reports a Channel state transition. Attempt is the
// reconnect attempt being made (0 on the first connection).
type ChannelStateData struct {
	State   models.ChannelState
	Attempt int
}

// ChannelClosedData is published when an open connection ends.
//
// Deliberate: closed by Close (logout); no reconnect follows.
// Final: the reconnect budget is spent; no reconnect follows either.
type ChannelClosedData struct {
	Err        error
	Deliberate bool
	Final      bool
	RetryIn    time.Duration
}

// HistoryLoadedData is published after a history page was applied to the
// open conversation.
//
// Prepended is the number of older messages inserted above the previously
// earliest one; the renderer moves its viewport down by that many rows so the
// user's position does not jump. Reset pages replace the whole view.
type HistoryLoadedData struct {
	PeerID    string
	Reset     bool
	Prepended int
	Err       error
}

// ConversationData is a snapshot of the open conversation.
type ConversationData struct {
	PeerID       string
	Messages     []models.Message
	Cursor       models.PaginationCursor
	Placeholder  bool // "no messages" shown instead of an empty view
	ScrollAnchor int  // rows prepended by the last history page
	Loading      bool
}

// NoticeDismissData is published when a notice leaves the screen, either on
// expiry, on Dismiss or because it was acted upon.
type NoticeDismissData struct {
	NoticeID string
	Expired  bool
}
