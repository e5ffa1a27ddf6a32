// Package history persists generations as immutable snapshots in a version
// store and tracks the mutable current and built pointers beside it.
package history

import (
	"context"
)

// SnapshotFile is the file holding the serialized generation in every snapshot.
const SnapshotFile = "gen.toml"

// Snapshot is one committed generation.
type Snapshot struct {
	ID      string
	Message string
}

// Store is a content-addressed commit log over a working tree.
type Store interface {
	// Init prepares the store. It is a no-op for an initialized store.
	Init(ctx context.Context) error

	// WorkTree is the directory whose contents are committed.
	WorkTree() string

	// Attach moves the working tree back onto the tip of the history so the
	// next commit extends it.
	Attach(ctx context.Context) error

	// Commit snapshots the working tree. It returns "" when nothing changed.
	Commit(ctx context.Context, message string) (string, error)

	// Log lists snapshots newest first. limit <= 0 means all.
	Log(ctx context.Context, limit int) ([]Snapshot, error)

	// Checkout moves the working tree to id, stashing local drift first.
	Checkout(ctx context.Context, id string) error

	// Show returns a file's content at id. A file absent from the snapshot
	// fails with missing_file.
	Show(ctx context.Context, id, path string) ([]byte, error)

	// Head returns the snapshot the working tree is on.
	Head(ctx context.Context) (string, error)

	// IsDirty reports uncommitted changes in the working tree.
	IsDirty(ctx context.Context) (bool, error)

	// Diff returns a textual diff between two snapshots, for display.
	Diff(ctx context.Context, from, to string) (string, error)
}
