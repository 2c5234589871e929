package itemd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgeloop/itemd/pkg/changelog"
	"github.com/edgeloop/itemd/pkg/item"
	"github.com/edgeloop/itemd/pkg/notify"
)

// flakySink fails the first n publishes, then records everything that goes
// out as "<event>:<version>".
type flakySink struct {
	mu        sync.Mutex
	published []string
	failures  int
}

func (s *flakySink) Connect(map[string]any) error { return nil }
func (s *flakySink) Disconnect() error            { return nil }

func (s *flakySink) Pub(n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("topic unavailable")
	}
	state := n.Item
	if n.Event == notify.ItemUpdated {
		state = n.NewItem
	}
	s.published = append(s.published, fmt.Sprintf("%s:%v", n.Event, state["v"]))
	return nil
}

func (s *flakySink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.published...)
}

// A publish failure must not let newer records overtake the failed ones: the
// batch is retried in place, so per-item ordering survives redelivery.
func TestConsumeRetriesFailedBatchBeforeNewerRecords(t *testing.T) {
	log := changelog.NewMemoryLog()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v1 := item.Modified(item.Item{"id": "x"}, item.Item{"id": "x", "v": 1})
	v2 := item.Modified(item.Item{"id": "x", "v": 1}, item.Item{"id": "x", "v": 2})
	require.NoError(t, log.Append(ctx, v1))
	require.NoError(t, log.Append(ctx, v2))

	sink := &flakySink{failures: 1}
	processor := notify.NewProcessor("test", sink, "flaky", zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- consume(ctx, log, processor, 1, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 2
	}, 10*time.Second, 10*time.Millisecond, "both mutations should eventually publish")

	cancel()
	require.NoError(t, <-done)

	published := sink.snapshot()
	assert.Equal(t, []string{"ITEM_UPDATED:1", "ITEM_UPDATED:2"}, published,
		"the earlier mutation goes out before the later one despite the failure")
	assert.Equal(t, 0, log.Pending(), "both batches acknowledged")
}

func TestConsumeAcksCleanBatches(t *testing.T) {
	log := changelog.NewMemoryLog()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 1; i <= 3; i++ {
		require.NoError(t, log.Append(ctx, item.Inserted(item.Item{"id": fmt.Sprintf("i%d", i), "v": i})))
	}

	sink := &flakySink{}
	processor := notify.NewProcessor("test", sink, "flaky", zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- consume(ctx, log, processor, 10, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return log.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond, "clean batches are acknowledged")

	cancel()
	require.NoError(t, <-done)
}
