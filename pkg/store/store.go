// Package store persists session snapshots so the monitor surface can
// show recent calls across process restarts. The live Driver stays in
// memory; what is stored here is its serialized Summary.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/loftcall/loftcall/pkg/core/session"
)

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("store: session snapshot not found")

// DefaultTTL is how long a snapshot outlives its last update.
const DefaultTTL = 24 * time.Hour

// SessionStore persists session summaries.
type SessionStore interface {
	// Save writes or refreshes a snapshot.
	Save(ctx context.Context, sum session.Summary) error

	// Get fetches one snapshot. Returns ErrNotFound when absent.
	Get(ctx context.Context, sessionID string) (session.Summary, error)

	// List returns all stored snapshots, newest first.
	List(ctx context.Context) ([]session.Summary, error)

	// Delete removes a snapshot. Deleting an absent snapshot is not an
	// error.
	Delete(ctx context.Context, sessionID string) error
}
