package tree

import (
	"context"
	"errors"
)

// ErrNotExist is returned by UpdateExisting when nothing is stored at the
// path.
var ErrNotExist = errors.New("no value at path")

// Store is the item store contract consumed by the view models.
type Store interface {
	// Get reads the subtree rooted at path.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set writes value at path, replacing anything at or below it.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into the JSON object at path, creating it when
	// absent.
	Update(ctx context.Context, path string, fields map[string]any) error
	// UpdateExisting is Update that fails with ErrNotExist instead of
	// creating the object.
	UpdateExisting(ctx context.Context, path string, fields map[string]any) error
	// Remove deletes path and everything below it.
	Remove(ctx context.Context, path string) error
	// Push writes value under parent with a generated key and returns the key.
	Push(ctx context.Context, parent string, value any) (string, error)
	// Subscribe delivers a snapshot of path now and after every related
	// change until ctx ends or the subscription is closed.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}
