package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/forumchat/models"
)

// memPreviews is an in-memory PreviewRepository.
type memPreviews struct {
	mu      sync.Mutex
	rows    map[string]map[string]models.ConversationPreview
	batches int
	listErr error
}

func newMemPreviews() *memPreviews {
	return &memPreviews{rows: map[string]map[string]models.ConversationPreview{}}
}

func (m *memPreviews) ListByOwner(_ context.Context, ownerID string) ([]models.ConversationPreview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.ConversationPreview
	for _, p := range m.rows[ownerID] {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPreviews) Upsert(_ context.Context, ownerID string, p models.ConversationPreview) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(ownerID, p), nil
}

func (m *memPreviews) UpsertMany(_ context.Context, ownerID string, previews []models.ConversationPreview) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	n := 0
	for _, p := range previews {
		if m.upsertLocked(ownerID, p) {
			n++
		}
	}
	return n, nil
}

func (m *memPreviews) upsertLocked(ownerID string, p models.ConversationPreview) bool {
	if m.rows[ownerID] == nil {
		m.rows[ownerID] = map[string]models.ConversationPreview{}
	}
	if cur, ok := m.rows[ownerID][p.PeerID]; ok && !p.NewerThan(cur) {
		return false
	}
	m.rows[ownerID][p.PeerID] = p
	return true
}

func (m *memPreviews) DeleteByOwner(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, ownerID)
	return nil
}

func (m *memPreviews) get(ownerID, peerID string) (models.ConversationPreview, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[ownerID][peerID]
	return p, ok
}

func TestPreviewPersister_WritesAppliedPreviews(t *testing.T) {
	repo := newMemPreviews()
	store := NewConversationStore()
	persister := NewPreviewPersister(repo, localID)
	store.OnApply(persister.Enqueue)

	persister.Start(context.Background())
	t.Cleanup(persister.Stop)

	store.Apply(preview("u-al", "first", baseTime))
	store.Apply(preview("u-al", "second", baseTime.Add(time.Minute)))
	store.Apply(preview("u-bo", "hey", baseTime))

	require.Eventually(t, func() bool {
		p, ok := repo.get(localID, "u-al")
		_, okBo := repo.get(localID, "u-bo")
		return ok && okBo && p.LastMessageContent == "second"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPreviewPersister_StopFlushesQueue(t *testing.T) {
	repo := newMemPreviews()
	persister := NewPreviewPersister(repo, localID)

	// Queued before the writer runs: Stop must still write them.
	persister.Enqueue(preview("u-al", "one", baseTime))
	persister.Enqueue(preview("u-al", "two", baseTime.Add(time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	persister.Start(ctx)
	persister.Stop()

	p, ok := repo.get(localID, "u-al")
	require.True(t, ok)
	assert.Equal(t, "two", p.LastMessageContent)
}

func TestPreviewPersister_DrainKeepsFreshestPerPeer(t *testing.T) {
	persister := NewPreviewPersister(newMemPreviews(), localID)

	persister.Enqueue(preview("u-al", "newest", baseTime.Add(time.Hour)))
	persister.Enqueue(preview("u-bo", "bo", baseTime))
	persister.Enqueue(preview("u-al", "late but old", baseTime))

	batch := persister.drain(preview("u-al", "first", baseTime.Add(time.Minute)))
	require.Len(t, batch, 2)
	for _, p := range batch {
		if p.PeerID == "u-al" {
			assert.Equal(t, "newest", p.LastMessageContent)
		}
	}
}

func TestPreviewPersister_FullQueueDrops(t *testing.T) {
	persister := NewPreviewPersister(newMemPreviews(), localID)

	for i := range persistQueueSize + 10 {
		persister.Enqueue(preview("u-al", "x", baseTime.Add(time.Duration(i)*time.Second)))
	}
	assert.Len(t, persister.queue, persistQueueSize)
}
