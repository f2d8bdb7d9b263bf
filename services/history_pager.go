package services

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/akinalp/forumchat/pkg"
	"github.com/akinalp/forumchat/ws"
)

// HistoryPager loads the history of the open conversation backwards, one
// page of cursor.Limit messages at a time.
type HistoryPager struct {
	fetcher     HistoryFetcher
	store       *ConversationStore
	hub         ws.EventPublisher
	localUserID string
	state       *conversationState
}

func newHistoryPager(fetcher HistoryFetcher, store *ConversationStore, hub ws.EventPublisher, localUserID string, state *conversationState) *HistoryPager {
	return &HistoryPager{
		fetcher:     fetcher,
		store:       store,
		hub:         hub,
		localUserID: localUserID,
		state:       state,
	}
}

// Load fetches the next page for peerID and returns how many messages it
// added to the view.
//
//   - reset: the view is cleared and the cursor restarts at offset 0. A
//     reset for another peer switches the open conversation.
//   - exhausted cursor: no-op, no network call.
//   - a fetch for this conversation already in flight: ErrLoadInFlight, no
//     network call.
//
// The page arrives newest first and is reversed before insertion. Reset
// pages replace the view; incremental pages are prepended and the number of
// prepended rows is published as the scroll anchor. The cursor is exhausted
// once a page holds fewer than Limit rows. A result that arrives after the
// conversation was reset, switched or closed is discarded.
func (p *HistoryPager) Load(ctx context.Context, peerID string, reset bool) (int, error) {
	st := p.state

	st.mu.Lock()
	if reset {
		st.resetLocked(peerID)
	} else if st.peerID == "" || st.peerID != peerID {
		st.mu.Unlock()
		return 0, fmt.Errorf("%w: conversation with %s is not open", pkg.ErrNotFound, peerID)
	}

	if st.cursor.Exhausted {
		st.mu.Unlock()
		return 0, nil
	}
	if st.inflight {
		st.mu.Unlock()
		return 0, pkg.ErrLoadInFlight
	}

	st.inflight = true
	st.version++
	st.anchor = 0
	gen := st.gen
	offset, limit := st.cursor.Offset, st.cursor.Limit
	data, version := st.snapshotLocked()
	st.mu.Unlock()
	st.emit(p.hub, data, version)

	page, err := p.fetcher.History(ctx, peerID, limit, offset)

	st.mu.Lock()
	if st.gen != gen {
		st.mu.Unlock()
		log.Printf("[history] discarding stale page for %s (offset %d)", peerID, offset)
		return 0, nil
	}
	st.inflight = false
	st.version++
	st.anchor = 0

	if err != nil {
		if len(st.messages) == 0 {
			st.placeholder = true
		}
		data, version := st.snapshotLocked()
		st.mu.Unlock()

		log.Printf("[history] load for %s at offset %d failed: %v", peerID, offset, err)
		st.emit(p.hub, data, version)
		p.hub.Publish(ws.Event{Op: ws.OpHistoryLoaded, Data: ws.HistoryLoadedData{PeerID: peerID, Reset: reset, Err: err}})
		return 0, err
	}

	chronological := slices.Clone(page)
	slices.Reverse(chronological)

	received := len(page)
	added := st.prependLocked(chronological)
	st.cursor.Advance(received)
	// Rows already shown (pushed live while this page was in flight) were
	// counted by the live append.
	st.cursor.Offset -= received - added

	st.placeholder = len(st.messages) == 0
	if !reset {
		st.anchor = added
	}
	data, version = st.snapshotLocked()
	st.mu.Unlock()

	// The newest row of a reset page is the conversation's last message.
	if reset && received > 0 {
		p.store.Apply(page[0].Preview(p.localUserID))
	}

	st.emit(p.hub, data, version)
	p.hub.Publish(ws.Event{Op: ws.OpHistoryLoaded, Data: ws.HistoryLoadedData{
		PeerID:    peerID,
		Reset:     reset,
		Prepended: data.ScrollAnchor,
	}})
	return added, nil
}
