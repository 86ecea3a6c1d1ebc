// Package grant persists role assignments and per-user permission
// overrides. Every write is conditional on the version the caller read, and
// every successful write gets a fresh version from one monotonic counter.
package grant

import (
	"context"
	"errors"
)

var (
	// ErrVersionConflict means the row changed (or appeared, or vanished)
	// since the caller read it.
	ErrVersionConflict = errors.New("version conflict")
	ErrNotFound        = errors.New("not found")
)

// NoVersion is the expected version for a row the caller read as absent.
const NoVersion int64 = 0

// CommitHook runs inside a write after the conditional update succeeded and
// before it becomes visible. A returned error aborts the write. The ctx it
// receives carries the store's transaction when there is one.
type CommitHook func(ctx context.Context) error

func runHook(ctx context.Context, hook CommitHook) error {
	if hook == nil {
		return nil
	}
	return hook(ctx)
}
