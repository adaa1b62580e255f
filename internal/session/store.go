package session

import (
	"context"
	"errors"
)

// Sentinel errors returned by the session package.
var (
	// ErrNotFound is returned when a session is not found.
	ErrNotFound = errors.New("session not found")

	// ErrNoCurrentSession is returned by operations that need a current session.
	ErrNoCurrentSession = errors.New("no current session")

	// ErrQuotaExceeded is returned by a Store whose capacity is exhausted.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrPersistenceDegraded wraps a save that failed even after cleanup.
	// In-memory state remains authoritative.
	ErrPersistenceDegraded = errors.New("persistence degraded")

	// ErrInvariant marks a structural violation of the session model.
	ErrInvariant = errors.New("session invariant violated")
)

// Store persists the encoded session document.
type Store interface {
	// Read returns the stored document, or nil when nothing is stored.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored document. It returns an error wrapping
	// ErrQuotaExceeded when the backend is out of space.
	Write(ctx context.Context, data []byte) error

	// Close releases the backend.
	Close() error
}

// Quarantiner is implemented by stores that can set an unreadable document
// aside before it is overwritten.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}

// Locator is implemented by stores that live at a filesystem path.
type Locator interface {
	Path() string
}
