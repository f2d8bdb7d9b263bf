// Package main: local cache initialization.
package main

import (
	"fmt"
	"log"

	"github.com/akinalp/forumchat/config"
	"github.com/akinalp/forumchat/database"
	"github.com/akinalp/forumchat/repository"
)

// Cache holds the local database and the repositories built on it.
// With caching disabled both are nil and Close is a no-op.
type Cache struct {
	db       *database.DB
	Previews repository.PreviewRepository
}

// initCache opens the preview cache. An empty path disables it.
func initCache(cfg config.CacheConfig) (*Cache, error) {
	if cfg.Path == "" {
		log.Println("[main] preview cache disabled")
		return &Cache{}, nil
	}

	db, err := database.New(cfg.Path, database.Migrations())
	if err != nil {
		return nil, fmt.Errorf("failed to open preview cache: %w", err)
	}

	if cfg.EncryptionKey != nil {
		log.Println("[main] preview cache encrypted")
	}

	return &Cache{
		db:       db,
		Previews: repository.NewSQLitePreviewRepo(db.Conn, cfg.EncryptionKey),
	}, nil
}

// Close closes the database, if one was opened.
func (c *Cache) Close() {
	if c.db == nil {
		return
	}
	if err := c.db.Close(); err != nil {
		log.Printf("[main] failed to close preview cache: %v", err)
	}
}
