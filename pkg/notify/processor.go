package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/edgeloop/itemd/pkg/item"
	"github.com/edgeloop/itemd/pkg/metrics"
)

// Processor republishes change log records as notifications. It is stateless
// per invocation: batches may be processed concurrently, but records within
// one batch are published sequentially and synchronously to preserve per-item
// ordering.
type Processor struct {
	environment string
	sink        Connector
	sinkName    string
	logger      *zap.Logger
	now         func() time.Time
}

// NewProcessor returns a processor publishing through sink with the given
// environment tag.
func NewProcessor(environment string, sink Connector, sinkName string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Processor{
		environment: environment,
		sink:        sink,
		sinkName:    sinkName,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessBatch publishes one notification per recognized record, in the order
// delivered. The first publish failure aborts the batch and is returned to
// the caller; the caller must not acknowledge the batch, so the change log
// redelivers it whole. Records published before the failure will then be
// published again: delivery is at-least-once.
func (p *Processor) ProcessBatch(ctx context.Context, records []item.Change) error {
	timer := prometheus.NewTimer(metrics.BatchDuration)
	defer timer.ObserveDuration()

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, ok := Classify(record, p.environment, p.now())
		if !ok {
			metrics.SkippedRecords.Inc()
			p.logger.Debug("skipping unrecognized mutation kind",
				zap.String("op", string(record.Op)),
				zap.String("seq", record.Seq))
			continue
		}

		if err := p.sink.Pub(n); err != nil {
			metrics.PublishErrors.WithLabelValues(p.sinkName).Inc()
			return fmt.Errorf("publish record %d/%d (%s %s): %w",
				i+1, len(records), n.Event, n.ItemID(), err)
		}
		metrics.PublishedNotifications.WithLabelValues(string(n.Event)).Inc()

		p.logger.Info("published notification",
			zap.String("event", string(n.Event)),
			zap.String("item", n.ItemID()),
			zap.String("seq", record.Seq))
	}
	return nil
}
