package changelog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/edgeloop/itemd/pkg/item"
)

const recordField = "record"

// RedisConfig configures the Redis Streams change log.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db"`
	Stream   string `mapstructure:"stream" json:"stream"`
	Group    string `mapstructure:"group" json:"group"`
	Consumer string `mapstructure:"consumer" json:"consumer"`
	// MinIdle is how long a pending entry may sit unacknowledged before it is
	// reclaimed and redelivered.
	MinIdle time.Duration `mapstructure:"minIdle" json:"minIdle"`
}

// RedisLog is a change log backed by a Redis Stream with a consumer group.
// XADD preserves append order; XREADGROUP delivers in that order; entries are
// XACKed only when the consumer's batch succeeds, and stale pending entries
// are reclaimed with XAUTOCLAIM.
type RedisLog struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisLog connects to Redis and ensures the stream and consumer group
// exist.
func NewRedisLog(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisLog, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Stream == "" {
		cfg.Stream = "itemd-changes"
	}
	if cfg.Group == "" {
		cfg.Group = "notifier"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "notifier-0"
	}
	if cfg.MinIdle == 0 {
		cfg.MinIdle = time.Minute
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("create consumer group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}

	return &RedisLog{client: client, cfg: cfg, logger: logger}, nil
}

// Append writes one change record to the stream. Redis assigns the stream id,
// which preserves per-key ordering across appenders on the same connection.
func (l *RedisLog) Append(ctx context.Context, change item.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change record: %w", err)
	}
	if err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.cfg.Stream,
		Values: map[string]any{recordField: data},
	}).Err(); err != nil {
		return fmt.Errorf("append change record: %w", err)
	}
	return nil
}

// ReadBatch returns the next batch of change records. Pending entries from
// failed deliveries are reclaimed first so an aborted batch is redelivered
// before new records are consumed.
func (l *RedisLog) ReadBatch(ctx context.Context, max int64) ([]item.Change, AckFunc, error) {
	if max <= 0 {
		max = 100
	}

	msgs, err := l.claimPending(ctx, max)
	if err != nil {
		return nil, nil, err
	}
	if len(msgs) == 0 {
		msgs, err = l.readNew(ctx, max)
		if err != nil {
			return nil, nil, err
		}
	}
	if len(msgs) == 0 {
		return nil, func(context.Context) error { return nil }, nil
	}

	changes := make([]item.Change, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[recordField].(string)
		if !ok {
			l.logger.Warn("change log entry missing record field", zap.String("id", msg.ID))
			ids = append(ids, msg.ID) // ack malformed entries so they don't loop forever
			continue
		}
		var change item.Change
		if err := json.Unmarshal([]byte(raw), &change); err != nil {
			l.logger.Warn("skipping undecodable change log entry",
				zap.String("id", msg.ID), zap.Error(err))
			ids = append(ids, msg.ID)
			continue
		}
		change.Seq = msg.ID
		changes = append(changes, change)
		ids = append(ids, msg.ID)
	}

	ack := func(ctx context.Context) error {
		if len(ids) == 0 {
			return nil
		}
		if err := l.client.XAck(ctx, l.cfg.Stream, l.cfg.Group, ids...).Err(); err != nil {
			return fmt.Errorf("ack change batch: %w", err)
		}
		return nil
	}
	return changes, ack, nil
}

func (l *RedisLog) claimPending(ctx context.Context, max int64) ([]redis.XMessage, error) {
	msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   l.cfg.Stream,
		Group:    l.cfg.Group,
		Consumer: l.cfg.Consumer,
		MinIdle:  l.cfg.MinIdle,
		Start:    "0-0",
		Count:    max,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claim pending changes: %w", err)
	}
	return msgs, nil
}

func (l *RedisLog) readNew(ctx context.Context, max int64) ([]redis.XMessage, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.cfg.Group,
		Consumer: l.cfg.Consumer,
		Streams:  []string{l.cfg.Stream, ">"},
		Count:    max,
		Block:    5 * time.Second,
	}).Result()
	if err != nil {
		if err == redis.Nil || err == context.Canceled || err == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, fmt.Errorf("read change log: %w", err)
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// Close closes the underlying Redis connection.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
