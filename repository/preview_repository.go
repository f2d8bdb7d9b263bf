// Package repository is the data access layer of the local preview cache.
//
// Services depend on the interfaces declared here, never on SQLite directly,
// so tests can pass a stub and a client without a cache passes nothing.
package repository

import (
	"context"

	"github.com/akinalp/forumchat/models"
)

// PreviewRepository persists the last known message per conversation,
// scoped to the local user (owner).
//
// Upsert and UpsertMany follow the same freshness rule as the in-memory
// store: a row is only replaced by a strictly newer one.
type PreviewRepository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]models.ConversationPreview, error)
	// Upsert reports whether the row was written.
	Upsert(ctx context.Context, ownerID string, preview models.ConversationPreview) (bool, error)
	// UpsertMany writes a batch in one transaction and returns how many rows
	// were written.
	UpsertMany(ctx context.Context, ownerID string, previews []models.ConversationPreview) (int, error)
	DeleteByOwner(ctx context.Context, ownerID string) error
}
