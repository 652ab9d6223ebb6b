// Package segment stores oversized context bodies out of line. Events carry
// a "segment://{bucket}/{key}" pointer instead of the inline payload; the
// blob itself lives in a local SQLite file, which keeps single-node
// deployments self-contained without an object store.
package segment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/kioku/internal/storage"
)

// Scheme prefixes every segment pointer.
const Scheme = "segment://"

// Store is a SQLite-backed blob store. Safe for concurrent use; SQLite
// serializes writers internally.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the segment database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("segment: open %s: %w", path, err)
	}

	// A single writer connection sidesteps SQLITE_BUSY under concurrent
	// offloads.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS segments (
			bucket     TEXT NOT NULL,
			key        TEXT NOT NULL,
			body       BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (bucket, key)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("segment: create schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Put stores a blob and returns its pointer. Re-putting the same
// bucket/key overwrites.
func (s *Store) Put(ctx context.Context, bucket, key string, body []byte) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("segment: bucket and key required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (bucket, key, body, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (bucket, key) DO UPDATE SET body = excluded.body`,
		bucket, key, body, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("segment: put %s/%s: %w", bucket, key, err)
	}
	return Scheme + bucket + "/" + key, nil
}

// Get resolves a pointer to its blob. A dangling pointer returns
// storage.ErrNotFound; callers treat that as "context body unavailable",
// not a failure.
func (s *Store) Get(ctx context.Context, pointer string) ([]byte, error) {
	bucket, key, err := ParsePointer(pointer)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT body FROM segments WHERE bucket = ? AND key = ?`, bucket, key,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment: %s: %w", pointer, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("segment: get %s: %w", pointer, err)
	}
	return body, nil
}

// Delete removes a blob. Deleting an absent pointer is a no-op.
func (s *Store) Delete(ctx context.Context, pointer string) error {
	bucket, key, err := ParsePointer(pointer)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM segments WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		return fmt.Errorf("segment: delete %s: %w", pointer, err)
	}
	return nil
}

// Close shuts down the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ParsePointer splits "segment://{bucket}/{key}" into its parts.
func ParsePointer(pointer string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(pointer, Scheme)
	if !ok {
		return "", "", fmt.Errorf("segment: invalid pointer %q", pointer)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("segment: invalid pointer %q", pointer)
	}
	return bucket, key, nil
}
