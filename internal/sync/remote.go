// Package sync reconciles the local log collection against a remote
// per-user document collection under a last-write-wins policy.
package sync

import (
	"context"

	"github.com/klee/careerfly/internal/models"
)

// RemoteLog is one log document as the remote collection stores it: the
// full record plus the modification stamp used for merging. The stamp is
// assigned by the writing device, so a device merging the echo of its own
// push sees an exact tie and changes nothing.
type RemoteLog struct {
	Log models.LogEntry `json:"log"`
	// UpdatedAt is unix milliseconds at the device that wrote the document.
	UpdatedAt int64 `json:"updatedAt"`
}

// RemoteStore abstracts the remote document collection. Implementations
// are expected to be safe for concurrent use.
type RemoteStore interface {
	// FetchAll returns every log document in the user's collection.
	FetchAll(ctx context.Context, userID string) ([]RemoteLog, error)

	// Put writes the full document, replacing any existing revision, and
	// returns the modification stamp the write was recorded under.
	Put(ctx context.Context, userID string, doc RemoteLog) (int64, error)

	// Watch streams documents as they are added or modified remotely. The
	// channel closes when ctx is cancelled or the feed drops.
	Watch(ctx context.Context, userID string) (<-chan RemoteLog, error)
}
