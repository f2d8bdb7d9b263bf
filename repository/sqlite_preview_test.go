package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/forumchat/database"
	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg/crypto"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "cache.db"), database.Migrations())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func preview(peer, content string, at time.Time) models.ConversationPreview {
	return models.ConversationPreview{PeerID: peer, LastMessageContent: content, LastMessageTime: at}
}

func TestPreviewUpsertFreshness(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLitePreviewRepo(db.Conn, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ok, err := repo.Upsert(ctx, "me", preview("bo", "hi", t0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Upsert(ctx, "me", preview("bo", "older", t0.Add(-time.Minute)))
	require.NoError(t, err)
	assert.False(t, ok, "older preview must not replace a newer one")

	ok, err = repo.Upsert(ctx, "me", preview("bo", "same time", t0))
	require.NoError(t, err)
	assert.False(t, ok, "equal timestamps are not strictly newer")

	ok, err = repo.Upsert(ctx, "me", preview("bo", "newer", t0.Add(time.Second)))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.ListByOwner(ctx, "me")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "newer", got[0].LastMessageContent)
	assert.True(t, got[0].LastMessageTime.Equal(t0.Add(time.Second)))
}

func TestPreviewListOrderAndOwnerScope(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLitePreviewRepo(db.Conn, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	n, err := repo.UpsertMany(ctx, "me", []models.ConversationPreview{
		preview("al", "a", t0),
		preview("bo", "b", t0.Add(time.Hour)),
		preview("cy", "c", t0.Add(30*time.Minute)),
		preview("al", "stale", t0.Add(-time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = repo.Upsert(ctx, "someone-else", preview("al", "x", t0))
	require.NoError(t, err)

	got, err := repo.ListByOwner(ctx, "me")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"bo", "cy", "al"}, []string{got[0].PeerID, got[1].PeerID, got[2].PeerID})
	assert.Equal(t, "a", got[2].LastMessageContent)

	require.NoError(t, repo.DeleteByOwner(ctx, "me"))
	got, err = repo.ListByOwner(ctx, "me")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = repo.ListByOwner(ctx, "someone-else")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestPreviewEncryptedAtRest(t *testing.T) {
	db := openTestDB(t)
	key, err := crypto.DeriveKey("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	repo := NewSQLitePreviewRepo(db.Conn, key)
	_, err = repo.Upsert(ctx, "me", preview("bo", "meet at noon", t0))
	require.NoError(t, err)

	var stored string
	require.NoError(t, db.Conn.QueryRow(`SELECT content FROM conversation_previews`).Scan(&stored))
	assert.NotContains(t, stored, "noon")

	got, err := repo.ListByOwner(ctx, "me")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "meet at noon", got[0].LastMessageContent)

	// A repository with another key skips the rows it cannot open.
	otherKey, err := crypto.DeriveKey("ff0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	got, err = NewSQLitePreviewRepo(db.Conn, otherKey).ListByOwner(ctx, "me")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPreviewUpsertManyEmpty(t *testing.T) {
	db := openTestDB(t)
	n, err := NewSQLitePreviewRepo(db.Conn, nil).UpsertMany(context.Background(), "me", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
