package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesEmbeddedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	db, err := New(path, Migrations())
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.Conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='conversation_previews'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "conversation_previews", name)

	var applied int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestMigrationsRunOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	migrations := fstest.MapFS{
		"001_init.sql":   {Data: []byte(`CREATE TABLE items (id TEXT PRIMARY KEY, note TEXT DEFAULT 'a;b');`)},
		"002_column.sql": {Data: []byte(`ALTER TABLE items ADD COLUMN extra TEXT; INSERT INTO items (id) VALUES ('x');`)},
		"README.md":      {Data: []byte("not a migration")},
	}

	db, err := New(path, migrations)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// A second open must not re-run 002 (the insert would fail on the
	// primary key).
	db, err = New(path, migrations)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.Conn.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 1, count)

	var note string
	require.NoError(t, db.Conn.QueryRow(`SELECT note FROM items`).Scan(&note))
	assert.Equal(t, "a;b", note)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x TEXT DEFAULT ';');\n\nINSERT INTO a VALUES ('it''s;');  ")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "it''s;")
}

func TestWithTx(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "tx.db"), fstest.MapFS{
		"001.sql": {Data: []byte(`CREATE TABLE t (v INTEGER);`)},
	})
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err = WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO t VALUES (1)`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO t VALUES (2)`)
		return err
	})
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = WithTx(ctx, db.Conn, func(tx *sql.Tx) error {
			_, _ = tx.ExecContext(ctx, `INSERT INTO t VALUES (3)`)
			panic("unexpected")
		})
	})

	var sum int
	require.NoError(t, db.Conn.QueryRow(`SELECT COALESCE(SUM(v), 0) FROM t`).Scan(&sum))
	assert.Equal(t, 2, sum, "only the committed transaction is kept")
}
