// Package redis implements the key-value store backend. Each item is a Redis
// hash keyed item:<id>, with every field holding its JSON-encoded value, so a
// partial update is a single HSET of exactly the patch fields: an atomic
// update-in-place that cannot clobber fields outside the patch. An id index
// set backs the unbounded list scan.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/edgeloop/itemd/pkg/changelog"
	"github.com/edgeloop/itemd/pkg/item"
	"github.com/edgeloop/itemd/pkg/store"
)

const indexKey = "items"

// Config holds Redis connection settings for the item store.
type Config struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db"`
}

// Store is the Redis-backed item store.
type Store struct {
	client *redis.Client
	log    changelog.Appender
	logger *zap.Logger
}

// New connects to Redis and returns the store. The appender may be nil.
func New(ctx context.Context, cfg Config, log changelog.Appender, logger *zap.Logger) (*Store, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
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
	return &Store{client: client, log: log, logger: logger}, nil
}

func itemKey(id string) string { return "item:" + id }

func (s *Store) List(ctx context.Context) ([]item.Item, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	items := make([]item.Item, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, itemKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			// index can briefly point at a deleted item
			continue
		}
		it, err := decodeHash(fields)
		if err != nil {
			s.logger.Warn("skipping undecodable item", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) Get(ctx context.Context, id string) (item.Item, error) {
	fields, err := s.client.HGetAll(ctx, itemKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeHash(fields)
}

func (s *Store) Create(ctx context.Context, it item.Item) error {
	fields, err := encodeFields(it)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, itemKey(it.ID()), fields)
	pipe.SAdd(ctx, indexKey, it.ID())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create item %s: %w", it.ID(), err)
	}
	return s.append(ctx, item.Inserted(it))
}

// Update writes exactly the patch fields with a single HSET. The hash write is
// atomic per field, so a concurrent update touching a disjoint field set is
// preserved. The before image is read first for the change record.
func (s *Store) Update(ctx context.Context, id string, patch item.Item) (item.Item, error) {
	beforeFields, err := s.client.HGetAll(ctx, itemKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read item %s: %w", id, err)
	}
	if len(beforeFields) == 0 {
		return nil, store.ErrNotFound
	}
	before, err := decodeHash(beforeFields)
	if err != nil {
		return nil, err
	}

	fields, err := encodeFields(patch)
	if err != nil {
		return nil, err
	}
	if err := s.client.HSet(ctx, itemKey(id), fields).Err(); err != nil {
		return nil, fmt.Errorf("update item %s: %w", id, err)
	}

	after := item.Merge(before, patch)
	if err := s.append(ctx, item.Modified(before, after)); err != nil {
		return nil, err
	}
	return after, nil
}

func (s *Store) Delete(ctx context.Context, id string) (item.Item, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, itemKey(id))
	pipe.SRem(ctx, indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("delete item %s: %w", id, err)
	}
	if err := s.append(ctx, item.Removed(before)); err != nil {
		return nil, err
	}
	return before, nil
}

func (s *Store) Close() {
	_ = s.client.Close()
}

func (s *Store) append(ctx context.Context, change item.Change) error {
	if s.log == nil {
		return nil
	}
	return s.log.Append(ctx, change)
}

// encodeFields JSON-encodes each value so arbitrary attribute types survive
// the string-typed hash.
func encodeFields(it item.Item) (map[string]any, error) {
	fields := make(map[string]any, len(it))
	for k, v := range it {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = string(data)
	}
	return fields, nil
}

func decodeHash(fields map[string]string) (item.Item, error) {
	it := make(item.Item, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", k, err)
		}
		it[k] = v
	}
	return it, nil
}
