package models

import "time"

// DefaultHistoryLimit is the page size used by the history pager.
const DefaultHistoryLimit = 10

// ConversationPreview is the last message touching a peer, either sent or
// received. It drives roster ordering and the snippet shown next to a user.
//
// Previews only ever move forward in time: see NewerThan.
type ConversationPreview struct {
	PeerID             string    `json:"peer_id"`
	LastMessageContent string    `json:"last_message_content"`
	LastMessageTime    time.Time `json:"last_message_time"`
}

// NewerThan reports whether p should replace cur. An update is applied only
// when it is strictly newer than the stored entry.
func (p ConversationPreview) NewerThan(cur ConversationPreview) bool {
	return p.LastMessageTime.After(cur.LastMessageTime)
}

// PaginationCursor tracks backward history loading for the open
// conversation.
//
// Exhausted becomes true once a page returns fewer than Limit rows; from then
// on no backward fetch is issued until the conversation is reset.
type PaginationCursor struct {
	Offset    int
	Limit     int
	Exhausted bool
}

// NewCursor returns a fresh cursor. A non-positive limit falls back to
// DefaultHistoryLimit.
func NewCursor(limit int) PaginationCursor {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return PaginationCursor{Offset: 0, Limit: limit}
}

// Advance records a received page of n rows.
func (c *PaginationCursor) Advance(n int) {
	c.Offset += n
	if n < c.Limit {
		c.Exhausted = true
	}
}
