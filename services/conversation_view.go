package services

import (
	"context"
	"errors"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg"
	"github.com/akinalp/forumchat/ws"
)

// ConversationView is the conversation currently open on screen.
//
// It receives live messages through AppendLive (an OpMessage subscriber),
// asks its HistoryPager for older pages when the user scrolls to the top,
// and publishes every change as ws.OpConversationUpdate.
type ConversationView struct {
	state *conversationState
	pager *HistoryPager
	hub   ws.EventPublisher
}

// NewConversationView creates a view with no conversation open.
// limit is the history page size.
func NewConversationView(
	fetcher HistoryFetcher,
	store *ConversationStore,
	hub ws.EventPublisher,
	localUserID string,
	limit int,
) *ConversationView {
	state := newConversationState(limit)
	return &ConversationView{
		state: state,
		pager: newHistoryPager(fetcher, store, hub, localUserID, state),
		hub:   hub,
	}
}

// Pager returns the history pager bound to this view.
func (v *ConversationView) Pager() *HistoryPager {
	return v.pager
}

// PeerID returns the open peer, or "" when no conversation is open.
func (v *ConversationView) PeerID() string {
	v.state.mu.Lock()
	defer v.state.mu.Unlock()
	return v.state.peerID
}

// Open switches to the conversation with peerID and loads its newest page.
// Opening the conversation that is already open reloads it.
func (v *ConversationView) Open(ctx context.Context, peerID string) error {
	_, err := v.pager.Load(ctx, peerID, true)
	return err
}

// Close tears the conversation down. A history fetch still in flight is
// discarded when it returns.
func (v *ConversationView) Close() {
	st := v.state

	st.mu.Lock()
	if st.peerID == "" {
		st.mu.Unlock()
		return
	}
	st.resetLocked("")
	data, version := st.snapshotLocked()
	st.mu.Unlock()

	st.emit(v.hub, data, version)
}

// AppendLive adds a pushed message at the end of the view when it belongs
// to the open conversation. Pushed messages are the newest, so the common
// case is a plain append; one that arrives out of order is sorted in.
func (v *ConversationView) AppendLive(msg models.Message) bool {
	st := v.state

	st.mu.Lock()
	if st.peerID == "" || !msg.Involves(st.peerID) || st.containsLocked(msg) {
		st.mu.Unlock()
		return false
	}

	st.messages = append(st.messages, msg)
	sortChronological(st.messages)
	st.cursor.Offset++
	st.placeholder = false
	st.anchor = 0
	st.version++
	data, version := st.snapshotLocked()
	st.mu.Unlock()

	st.emit(v.hub, data, version)
	return true
}

// ScrolledToTop is called when the oldest loaded message is at the top of
// the viewport. It loads the next older page unless the history is
// exhausted or a load is already in flight; both cases are no-ops.
func (v *ConversationView) ScrolledToTop(ctx context.Context) error {
	st := v.state

	st.mu.Lock()
	peerID := st.peerID
	idle := peerID != "" && !st.cursor.Exhausted && !st.inflight
	st.mu.Unlock()

	if !idle {
		return nil
	}
	// Another trigger may have won the race since the check above.
	if _, err := v.pager.Load(ctx, peerID, false); err != nil && !errors.Is(err, pkg.ErrLoadInFlight) {
		return err
	}
	return nil
}

// Snapshot returns the current view.
func (v *ConversationView) Snapshot() ws.ConversationData {
	v.state.mu.Lock()
	defer v.state.mu.Unlock()

	data, _ := v.state.snapshotLocked()
	return data
}
