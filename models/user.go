// Package models defines the client-side domain types: roster users, direct
// messages, conversation previews, pagination cursors and the session.
//
// JSON tags follow the server's wire format (snake_case). Types that never
// cross the wire (Roster, Notice, ChannelState) carry no tags.
package models

import "time"

// User is one roster member as returned by GET /users.
//
// Membership is authoritative from the server; Online is volatile and may
// change between two polls. Servers that embed the last message of the
// conversation fill LastMessage and LastMessageTime, older servers leave them
// nil (see RosterService for the back-compat path).
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Gender   string `json:"gender,omitempty"`
	Online   bool   `json:"online"`

	LastMessage     *string    `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
}

// EmbeddedPreview returns the preview the server embedded in the roster row,
// or false when the row has none.
func (u User) EmbeddedPreview() (ConversationPreview, bool) {
	if u.LastMessage == nil || u.LastMessageTime == nil || u.LastMessageTime.IsZero() {
		return ConversationPreview{}, false
	}
	return ConversationPreview{
		PeerID:             u.ID,
		LastMessageContent: *u.LastMessage,
		LastMessageTime:    *u.LastMessageTime,
	}, true
}

// RosterEntry is a user joined with its conversation preview at render time.
// Preview is nil when no message has been exchanged with that user yet.
type RosterEntry struct {
	User    User
	Preview *ConversationPreview
}

// Roster is the display-ordered user list: the online group renders before
// the offline group.
//
// Unavailable is set when the last GET /users failed. Renderers show a
// neutral placeholder instead of an empty list in that case.
type Roster struct {
	Online      []RosterEntry
	Offline     []RosterEntry
	Unavailable bool
	FetchedAt   time.Time
}

// Len returns the number of users in both groups.
func (r Roster) Len() int {
	return len(r.Online) + len(r.Offline)
}

// Entries returns online entries followed by offline entries, the order in
// which they are rendered.
func (r Roster) Entries() []RosterEntry {
	out := make([]RosterEntry, 0, r.Len())
	out = append(out, r.Online...)
	out = append(out, r.Offline...)
	return out
}
