// Package changelog provides the ordered mutation log connecting the item
// store to the notification processor. Store backends append one record per
// committed mutation; the processor reads records in batches, in append order,
// and acknowledges a batch only after every record in it has been published.
// Unacknowledged batches are redelivered whole, so consumers get at-least-once
// delivery.
package changelog

import (
	"context"

	"github.com/edgeloop/itemd/pkg/item"
)

// AckFunc acknowledges a delivered batch. Calling it tells the log that every
// record in the batch was processed; a batch whose AckFunc is never called is
// redelivered.
type AckFunc func(ctx context.Context) error

// Appender is the write side, used by store backends.
type Appender interface {
	Append(ctx context.Context, change item.Change) error
}

// Log is the full change log: append, batched ordered reads, acknowledgement.
type Log interface {
	Appender

	// ReadBatch blocks until at least one record is available or ctx is done,
	// then returns up to max records in append order together with the
	// AckFunc for the batch.
	ReadBatch(ctx context.Context, max int64) ([]item.Change, AckFunc, error)

	Close() error
}
