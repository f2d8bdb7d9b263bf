package services

import (
	"sort"
	"sync"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/ws"
)

// conversationState is the open conversation, shared by HistoryPager and
// ConversationView.
//
// Both mutation paths (history page insert, live append) take mu, so a
// backward page can never land after a message newer than itself.
//
// gen changes whenever the conversation is reset, switched or closed. A
// history fetch remembers the gen it started under and its result is
// discarded when gen moved on meanwhile.
//
// Offset invariant: cursor.Offset equals the number of messages displayed.
// The displayed messages are always the newest contiguous slice of the
// conversation (pages grow it backwards, live appends forwards), so the
// next older page starts exactly there.
type conversationState struct {
	mu          sync.Mutex
	peerID      string
	gen         uint64
	messages    []models.Message
	cursor      models.PaginationCursor
	placeholder bool
	anchor      int
	inflight    bool
	version     uint64

	pubMu     sync.Mutex
	published uint64
}

func newConversationState(limit int) *conversationState {
	return &conversationState{cursor: models.NewCursor(limit)}
}

// resetLocked switches to peerID with an empty view and a fresh cursor.
func (st *conversationState) resetLocked(peerID string) {
	st.gen++
	st.peerID = peerID
	st.messages = nil
	st.cursor = models.NewCursor(st.cursor.Limit)
	st.placeholder = false
	st.anchor = 0
	st.inflight = false
	st.version++
}

// snapshotLocked copies the state for publication.
func (st *conversationState) snapshotLocked() (ws.ConversationData, uint64) {
	msgs := make([]models.Message, len(st.messages))
	copy(msgs, st.messages)
	return ws.ConversationData{
		PeerID:       st.peerID,
		Messages:     msgs,
		Cursor:       st.cursor,
		Placeholder:  st.placeholder,
		ScrollAnchor: st.anchor,
		Loading:      st.inflight,
	}, st.version
}

// emit publishes a snapshot unless a newer one was already published.
// Snapshots are taken under mu but published outside it, so two racing
// mutations could otherwise publish out of order.
func (st *conversationState) emit(hub ws.EventPublisher, data ws.ConversationData, version uint64) {
	st.pubMu.Lock()
	defer st.pubMu.Unlock()

	if version <= st.published {
		return
	}
	st.published = version
	hub.Publish(ws.Event{Op: ws.OpConversationUpdate, Data: data})
}

// contains reports whether msg is already displayed.
func (st *conversationState) containsLocked(msg models.Message) bool {
	for i := len(st.messages) - 1; i >= 0; i-- {
		if st.messages[i].SameAs(msg) {
			return true
		}
	}
	return false
}

// prependLocked inserts a chronological page above the displayed messages,
// skipping rows already shown, and returns how many rows were inserted.
func (st *conversationState) prependLocked(page []models.Message) int {
	fresh := make([]models.Message, 0, len(page))
	for _, m := range page {
		if !st.containsLocked(m) {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return 0
	}

	merged := make([]models.Message, 0, len(fresh)+len(st.messages))
	merged = append(merged, fresh...)
	merged = append(merged, st.messages...)
	sortChronological(merged)

	st.messages = merged
	return len(fresh)
}

// sortChronological orders by created_at; equal timestamps keep their
// arrival order.
func sortChronological(msgs []models.Message) {
	if sort.SliceIsSorted(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) }) {
		return
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
