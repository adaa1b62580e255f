package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ncruces/go-sqlite3"

	"github.com/guilhermegouw/convtrack/internal/db"
)

// documentKey names the single row holding the envelope.
const documentKey = "envelope"

// SQLiteStore implements Store on the session_documents table.
type SQLiteStore struct {
	db    *db.DB
	owned bool
}

// NewSQLiteStore wraps an open database. Close does not close it.
func NewSQLiteStore(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

// OpenSQLiteStore opens the database at path with an optional page cap and
// returns a store that owns it.
func OpenSQLiteStore(path string, maxPageCount int) (*SQLiteStore, error) {
	database, err := db.OpenWithOptions(path, db.Options{MaxPageCount: maxPageCount})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: database, owned: true}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.db.Path()
}

// Read returns the stored document, or nil if none has been written.
func (s *SQLiteStore) Read(ctx context.Context) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM session_documents WHERE key = ?", documentKey).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return []byte(body), nil
}

// Write upserts the document row.
func (s *SQLiteStore) Write(ctx context.Context, data []byte) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_documents (key, body, version, updated_at)
			VALUES (?, ?, ?, strftime('%s', 'now'))
			ON CONFLICT(key) DO UPDATE SET
				body = excluded.body,
				version = excluded.version,
				updated_at = excluded.updated_at`,
			documentKey, string(data), CurrentVersion)
		return err
	})
	if err != nil {
		if isFull(err) {
			return fmt.Errorf("writing document: %w: %w", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("writing document: %w", err)
	}
	return nil
}

// Close closes the database if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func isFull(err error) bool {
	if errors.Is(err, sqlite3.FULL) {
		return true
	}
	return strings.Contains(err.Error(), "database or disk is full")
}
