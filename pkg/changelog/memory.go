package changelog

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeloop/itemd/pkg/item"
)

// MemoryLog is an in-process change log used in tests and with the memory
// store backend. Records are held in append order; the read cursor advances
// only on acknowledgement, so an unacked batch is redelivered.
type MemoryLog struct {
	mu      sync.Mutex
	records []item.Change
	cursor  int
	next    int64
	notify  chan struct{}
	closed  bool
}

// NewMemoryLog returns an empty in-memory change log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{notify: make(chan struct{}, 1)}
}

// Append adds a change record to the tail of the log.
func (l *MemoryLog) Append(_ context.Context, change item.Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("change log closed")
	}
	l.next++
	change.Seq = fmt.Sprintf("%d", l.next)
	l.records = append(l.records, change)
	select {
	case l.notify <- struct{}{}:
	default:
	}
	return nil
}

// ReadBatch returns up to max unacknowledged records starting at the cursor.
// Blocks until a record is available or ctx is done.
func (l *MemoryLog) ReadBatch(ctx context.Context, max int64) ([]item.Change, AckFunc, error) {
	if max <= 0 {
		max = 100
	}
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, nil, fmt.Errorf("change log closed")
		}
		if l.cursor < len(l.records) {
			end := l.cursor + int(max)
			if end > len(l.records) {
				end = len(l.records)
			}
			batch := make([]item.Change, end-l.cursor)
			copy(batch, l.records[l.cursor:end])
			l.mu.Unlock()

			ack := func(context.Context) error {
				l.mu.Lock()
				defer l.mu.Unlock()
				l.cursor = end
				return nil
			}
			return batch, ack, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-l.notify:
		}
	}
}

// Pending reports how many records have been appended but not acknowledged.
func (l *MemoryLog) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records) - l.cursor
}

// Close marks the log closed; subsequent operations fail.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
