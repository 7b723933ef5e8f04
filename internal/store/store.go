// Package store persists members and voices in a local sqlite database. The
// rest of the system sees it only through the domain store interfaces.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Store owns the database handle and the repositories built on it.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// sqlite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS members (
			name TEXT PRIMARY KEY,
			pfp_url TEXT NOT NULL DEFAULT '',
			num_sessions INTEGER NOT NULL DEFAULT 0,
			preferred_tts TEXT NOT NULL DEFAULT '',
			last_session INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS voices (
			uid TEXT NOT NULL,
			name TEXT NOT NULL,
			source TEXT NOT NULL CHECK (source IN ('local', 'streamelements', 'elevenlabs')),
			PRIMARY KEY (uid, source)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voices_name ON voices(name);`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Members returns the member repository.
func (s *Store) Members() *MemberRepo {
	return &MemberRepo{db: s.db}
}

// Voices returns the voice repository.
func (s *Store) Voices() *VoiceRepo {
	return &VoiceRepo{db: s.db}
}
