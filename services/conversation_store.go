package services

import (
	"sync"

	"github.com/akinalp/forumchat/models"
)

// ConversationStore maps peer id → last known conversation preview.
//
// It is pure data: no I/O, no events. The roster poll and the push channel
// both write to it concurrently, so every write is a compare-and-set on
// freshness under one lock: an update wins only when it is strictly newer
// than the stored entry, or when no entry exists. Call order never matters,
// and a stale roster poll cannot clobber a preview that just arrived live.
type ConversationStore struct {
	mu       sync.RWMutex
	previews map[string]models.ConversationPreview
	// seeded holds peers whose preview came from the local cache and has
	// not been superseded this session.
	seeded map[string]bool

	// onApply runs after every applied update, outside the lock.
	onApply func(models.ConversationPreview)
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		previews: make(map[string]models.ConversationPreview),
		seeded:   make(map[string]bool),
	}
}

// OnApply registers fn to observe applied updates. Seed does not trigger it.
func (s *ConversationStore) OnApply(fn func(models.ConversationPreview)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onApply = fn
}

// Apply stores p if it is fresher than the current entry for p.PeerID and
// reports whether it did.
func (s *ConversationStore) Apply(p models.ConversationPreview) bool {
	if p.PeerID == "" {
		return false
	}

	s.mu.Lock()
	applied := s.apply(p)
	if applied {
		delete(s.seeded, p.PeerID)
	}
	fn := s.onApply
	s.mu.Unlock()

	if applied && fn != nil {
		fn(p)
	}
	return applied
}

// Seed applies previews loaded from the local cache, under the same
// freshness rule, without notifying the OnApply observer. It returns how
// many were applied.
func (s *ConversationStore) Seed(previews []models.ConversationPreview) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range previews {
		if p.PeerID != "" && s.apply(p) {
			s.seeded[p.PeerID] = true
			n++
		}
	}
	return n
}

// apply must be called with mu held.
func (s *ConversationStore) apply(p models.ConversationPreview) bool {
	cur, ok := s.previews[p.PeerID]
	if ok && !p.NewerThan(cur) {
		return false
	}
	s.previews[p.PeerID] = p
	return true
}

// Get returns the preview for peerID.
func (s *ConversationStore) Get(peerID string) (models.ConversationPreview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.previews[peerID]
	return p, ok
}

// CachedOnly reports whether the preview for peerID was seeded from the
// local cache and nothing newer has been applied since.
func (s *ConversationStore) CachedOnly(peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seeded[peerID]
}

// Snapshot returns a copy of every preview.
func (s *ConversationStore) Snapshot() map[string]models.ConversationPreview {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.ConversationPreview, len(s.previews))
	for k, v := range s.previews {
		out[k] = v
	}
	return out
}

// Len returns the number of previews.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.previews)
}

// Reset drops every preview (logout).
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previews = make(map[string]models.ConversationPreview)
	s.seeded = make(map[string]bool)
}
