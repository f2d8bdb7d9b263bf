package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/repository"
)

// persistQueueSize bounds the previews waiting to be written. When the disk
// falls that far behind, newer updates are dropped: the cache is only a
// warm start, the server stays authoritative.
const persistQueueSize = 256

// PreviewPersister writes applied previews to the local cache in the
// background, batching whatever piled up since the last write into one
// transaction.
type PreviewPersister struct {
	repo    repository.PreviewRepository
	ownerID string
	queue   chan models.ConversationPreview

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPreviewPersister creates a persister for the previews of ownerID.
func NewPreviewPersister(repo repository.PreviewRepository, ownerID string) *PreviewPersister {
	return &PreviewPersister{
		repo:    repo,
		ownerID: ownerID,
		queue:   make(chan models.ConversationPreview, persistQueueSize),
	}
}

// Enqueue schedules p for writing. It never blocks; it is meant to be
// registered with ConversationStore.OnApply.
func (p *PreviewPersister) Enqueue(preview models.ConversationPreview) {
	select {
	case p.queue <- preview:
	default:
		log.Printf("[persist] queue full, dropping preview for %s", preview.PeerID)
	}
}

// Start launches the writer goroutine.
func (p *PreviewPersister) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop flushes what is queued and waits for the writer to exit.
func (p *PreviewPersister) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *PreviewPersister) loop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case first := <-p.queue:
			p.write(ctx, p.drain(first))
		case <-ctx.Done():
			// Final flush on a fresh context: the session context is gone.
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			select {
			case first := <-p.queue:
				p.write(flushCtx, p.drain(first))
			default:
			}
			cancel()
			return
		}
	}
}

// drain collects first plus everything already queued, keeping only the
// freshest preview per peer.
func (p *PreviewPersister) drain(first models.ConversationPreview) []models.ConversationPreview {
	latest := map[string]models.ConversationPreview{first.PeerID: first}
	for {
		select {
		case next := <-p.queue:
			if cur, ok := latest[next.PeerID]; !ok || next.NewerThan(cur) {
				latest[next.PeerID] = next
			}
		default:
			batch := make([]models.ConversationPreview, 0, len(latest))
			for _, v := range latest {
				batch = append(batch, v)
			}
			return batch
		}
	}
}

func (p *PreviewPersister) write(ctx context.Context, batch []models.ConversationPreview) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	n, err := p.repo.UpsertMany(ctx, p.ownerID, batch)
	if err != nil {
		log.Printf("[persist] failed to write %d previews: %v", len(batch), err)
		return
	}
	if n > 0 {
		log.Printf("[persist] wrote %d of %d previews", n, len(batch))
	}
}
