package itemd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgeloop/itemd/pkg/changelog"
	"github.com/edgeloop/itemd/pkg/item"
	"github.com/edgeloop/itemd/pkg/metrics"
	"github.com/edgeloop/itemd/pkg/notify"

	// Register built-in notification peers
	_ "github.com/edgeloop/itemd/pkg/notify/peer/debug"
	_ "github.com/edgeloop/itemd/pkg/notify/peer/kafka"
	_ "github.com/edgeloop/itemd/pkg/notify/peer/mqtt"
	_ "github.com/edgeloop/itemd/pkg/notify/peer/nats"
)

var (
	prometheusEnabled bool
	prometheusAddr    string
)

var notifyCmd = &cobra.Command{
	Use:     "notify",
	Aliases: []string{"n"},
	Short:   "Run the change notification processor",
	Long:    `Consumes the item change log and republishes each mutation as a notification to the configured peer.`,
	RunE:    runNotify,
}

func init() {
	notifyCmd.Flags().BoolVar(&prometheusEnabled, "metrics", false, "Expose Prometheus metrics")
	notifyCmd.Flags().StringVar(&prometheusAddr, "metrics-addr", ":9100", "Prometheus metrics listen address")
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	doneChan := make(chan struct{})

	var wg sync.WaitGroup

	if prometheusEnabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: prometheusAddr})
	}

	changeLog, err := changelog.NewRedisLog(ctx, cfg.Notifier.Changelog, logger)
	if err != nil {
		return fmt.Errorf("open change log: %w", err)
	}
	defer changeLog.Close()

	// notifier.topic is the default subject/topic prefix for whichever peer
	// is configured; the peer's own config block still wins
	peer := cfg.Notifier.Peer.WithDefaults(map[string]any{"topicPrefix": cfg.Notifier.Topic})

	m := notify.NewManager(logger)
	sink, err := m.Connect(peer)
	if err != nil {
		return fmt.Errorf("connect notification peer: %w", err)
	}
	defer sink.Disconnect()

	processor := notify.NewProcessor(cfg.Environment, sink, peer.ConnectorName, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consume(ctx, changeLog, processor, int64(cfg.Notifier.BatchSize), logger); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Received termination signal, shutting down gracefully...")
		cancel()
	case err := <-errChan:
		log.Printf("Notifier error: %v", err)
		cancel()
	}

	// Wait for goroutines to complete
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	// Wait with timeout
	select {
	case <-doneChan:
		log.Println("Shutdown complete")
	case <-time.After(10 * time.Second):
		log.Println("Shutdown timed out after 10 seconds")
	}

	return nil
}

// consume reads batches from the change log and hands them to the processor.
// A batch is acknowledged only after every record in it was published. A
// failed batch is retried in place, before any newer records are read: the
// change log only redelivers pending entries after their idle timeout, and
// reading on in the meantime would publish a later mutation of an item ahead
// of the retried earlier one.
func consume(ctx context.Context, changeLog changelog.Log, processor *notify.Processor, batchSize int64, logger *zap.Logger) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	for {
		records, ack, err := changeLog.ReadBatch(ctx, batchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read change log batch: %w", err)
		}
		if len(records) == 0 {
			continue
		}

		if err := publishBatch(ctx, processor, records, logger); err != nil {
			// only a canceled context stops the retry loop
			return nil
		}

		if err := ack(ctx); err != nil {
			logger.Error("acknowledge batch", zap.Error(err))
		}
	}
}

// publishBatch publishes one batch, retrying with exponential backoff until
// every record went out or ctx is done. Retries republish the whole batch,
// so records published before the failing one go out again (at-least-once).
func publishBatch(ctx context.Context, processor *notify.Processor, records []item.Change, logger *zap.Logger) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	return backoff.RetryNotify(
		func() error {
			if err := processor.ProcessBatch(ctx, records); err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		},
		backoff.WithContext(policy, ctx),
		func(err error, delay time.Duration) {
			logger.Error("batch aborted, retrying before consuming newer records",
				zap.Int("records", len(records)),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	)
}
