// Package store defines the backend contract for item persistence. Backends
// are expected to implement partial updates as update-in-place primitives so
// that fields outside a patch survive concurrent writers, and to append one
// change record to the change log per committed mutation.
package store

import (
	"context"
	"errors"

	"github.com/edgeloop/itemd/pkg/item"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("item not found")

// Store is the backend contract used by the API layer.
type Store interface {
	// List returns all current items. No pagination: callers must tolerate
	// unbounded result size.
	List(ctx context.Context) ([]item.Item, error)

	// Get returns the item with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (item.Item, error)

	// Create persists a fully-formed new item. The id is expected to be unused.
	Create(ctx context.Context, it item.Item) error

	// Update applies the patch to an existing item in place. Fields outside
	// the patch keep their stored values. Returns the complete merged record,
	// or ErrNotFound if the id does not exist.
	Update(ctx context.Context, id string, patch item.Item) (item.Item, error)

	// Delete removes the item and returns its pre-deletion snapshot, or
	// ErrNotFound.
	Delete(ctx context.Context, id string) (item.Item, error)

	// Close releases the backend connection.
	Close()
}
