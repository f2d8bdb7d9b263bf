package database

import (
	"embed"
	"io/fs"
)

// EmbeddedMigrations holds the SQL files of migrations/, compiled into the
// binary so the client needs nothing next to it on disk.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS

// Migrations returns the migrations directory as the root of an fs.FS,
// ready to pass to New.
func Migrations() fs.FS {
	sub, err := fs.Sub(EmbeddedMigrations, "migrations")
	if err != nil {
		// The directory is embedded at compile time; it cannot be missing.
		panic(err)
	}
	return sub
}
