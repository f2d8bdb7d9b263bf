package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/akinalp/forumchat/database"
	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg/crypto"
)

// sqlitePreviewRepo is the SQLite implementation of PreviewRepository.
// With a non-nil key, content is stored sealed (see pkg/crypto).
type sqlitePreviewRepo struct {
	db  *sql.DB
	key []byte
}

// NewSQLitePreviewRepo returns a PreviewRepository backed by db.
// key may be nil to store previews in clear.
func NewSQLitePreviewRepo(db *sql.DB, key []byte) PreviewRepository {
	return &sqlitePreviewRepo{db: db, key: key}
}

const upsertPreviewQuery = `
	INSERT INTO conversation_previews (owner_id, peer_id, content, last_message_time)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(owner_id, peer_id) DO UPDATE SET
		content = excluded.content,
		last_message_time = excluded.last_message_time,
		updated_at = CURRENT_TIMESTAMP
	WHERE excluded.last_message_time > conversation_previews.last_message_time`

func (r *sqlitePreviewRepo) ListByOwner(ctx context.Context, ownerID string) ([]models.ConversationPreview, error) {
	query := `
		SELECT peer_id, content, last_message_time
		FROM conversation_previews
		WHERE owner_id = ?
		ORDER BY last_message_time DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list previews: %w", err)
	}
	defer rows.Close()

	var previews []models.ConversationPreview
	for rows.Next() {
		var (
			p       models.ConversationPreview
			content string
			nanos   int64
		)
		if err := rows.Scan(&p.PeerID, &content, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan preview row: %w", err)
		}

		p.LastMessageContent, err = r.open(content)
		if err != nil {
			// A row sealed with another key is useless but harmless: the
			// next roster fetch brings the preview back.
			log.Printf("[repository] skipping unreadable preview for peer %s: %v", p.PeerID, err)
			continue
		}
		p.LastMessageTime = time.Unix(0, nanos)
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate preview rows: %w", err)
	}

	return previews, nil
}

func (r *sqlitePreviewRepo) Upsert(ctx context.Context, ownerID string, preview models.ConversationPreview) (bool, error) {
	return r.upsert(ctx, r.db, ownerID, preview)
}

func (r *sqlitePreviewRepo) UpsertMany(ctx context.Context, ownerID string, previews []models.ConversationPreview) (int, error) {
	if len(previews) == 0 {
		return 0, nil
	}

	written := 0
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		written = 0
		for _, p := range previews {
			ok, err := r.upsert(ctx, tx, ownerID, p)
			if err != nil {
				return err
			}
			if ok {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (r *sqlitePreviewRepo) DeleteByOwner(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversation_previews WHERE owner_id = ?`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete previews: %w", err)
	}
	return nil
}

func (r *sqlitePreviewRepo) upsert(ctx context.Context, q database.TxQuerier, ownerID string, p models.ConversationPreview) (bool, error) {
	content, err := r.seal(p.LastMessageContent)
	if err != nil {
		return false, err
	}

	result, err := q.ExecContext(ctx, upsertPreviewQuery,
		ownerID, p.PeerID, content, p.LastMessageTime.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert preview: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check upsert result: %w", err)
	}
	return affected > 0, nil
}

func (r *sqlitePreviewRepo) seal(plain string) (string, error) {
	if r.key == nil {
		return plain, nil
	}
	sealed, err := crypto.Encrypt(plain, r.key)
	if err != nil {
		return "", fmt.Errorf("failed to seal preview: %w", err)
	}
	return sealed, nil
}

func (r *sqlitePreviewRepo) open(stored string) (string, error) {
	if r.key == nil {
		return stored, nil
	}
	return crypto.Decrypt(stored, r.key)
}
