// Package pg implements the relational store backend on PostgreSQL. Fixed item
// fields live in typed columns; the open attribute set lives in a jsonb
// column. A partial update is one dynamically-built UPDATE statement that sets
// only the patched columns and merges open attributes with the jsonb
// concatenation operator, so the whole patch is applied atomically and
// concurrently-written fields outside the patch are never lost.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edgeloop/itemd/pkg/changelog"
	"github.com/edgeloop/itemd/pkg/item"
	"github.com/edgeloop/itemd/pkg/store"
)

// Config holds PostgreSQL connection settings for the item store.
type Config struct {
	ConnString string `mapstructure:"connString" json:"connString"`
}

// Store is the PostgreSQL-backed item store. The pgx pool is bounded and
// blocks acquisition until a connection frees up or its timeout elapses.
type Store struct {
	pool *pgxpool.Pool
	log  changelog.Appender
}

// New creates the connection pool and ensures the items table exists. The
// appender may be nil.
func New(ctx context.Context, cfg Config, log changelog.Appender) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS items (
			id          text PRIMARY KEY,
			name        text NOT NULL,
			description text,
			price       numeric,
			created_at  timestamptz NOT NULL,
			updated_at  timestamptz NOT NULL,
			attrs       jsonb NOT NULL DEFAULT '{}'::jsonb
		)`)
	if err != nil {
		return fmt.Errorf("ensure items table: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]item.Item, error) {
	rows, err := s.pool.Query(ctx, selectQuery+" ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []item.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *Store) Get(ctx context.Context, id string) (item.Item, error) {
	rows, err := s.pool.Query(ctx, selectQuery+" WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get item %s: %w", id, err)
		}
		return nil, store.ErrNotFound
	}
	return scanItem(rows)
}

func (s *Store) Create(ctx context.Context, it item.Item) error {
	query, args, err := buildInsert(it)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert item %s: %w", it.ID(), err)
	}
	return s.append(ctx, item.Inserted(it))
}

// Update applies the patch in a single UPDATE ... RETURNING statement. The
// before image is read first for the change record; the update itself never
// depends on that snapshot.
func (s *Store) Update(ctx context.Context, id string, patch item.Item) (item.Item, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	query, args, err := buildUpdate(id, patch)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update item %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("update item %s: %w", id, err)
		}
		// deleted between the read and the update
		return nil, store.ErrNotFound
	}
	after, err := scanItem(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	if err := s.append(ctx, item.Modified(before, after)); err != nil {
		return nil, err
	}
	return after, nil
}

func (s *Store) Delete(ctx context.Context, id string) (item.Item, error) {
	rows, err := s.pool.Query(ctx, deleteQuery, id)
	if err != nil {
		return nil, fmt.Errorf("delete item %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("delete item %s: %w", id, err)
		}
		return nil, store.ErrNotFound
	}
	before, err := scanItem(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	if err := s.append(ctx, item.Removed(before)); err != nil {
		return nil, err
	}
	return before, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) append(ctx context.Context, change item.Change) error {
	if s.log == nil {
		return nil
	}
	return s.log.Append(ctx, change)
}

// rowScanner is satisfied by pgx.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (item.Item, error) {
	var (
		id, name    string
		description *string
		price       *float64
		createdAt   time.Time
		updatedAt   time.Time
		attrs       map[string]any
	)
	if err := row.Scan(&id, &name, &description, &price, &createdAt, &updatedAt, &attrs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan item row: %w", err)
	}

	it := item.Item{
		item.FieldID:        id,
		item.FieldName:      name,
		item.FieldCreatedAt: item.Timestamp(createdAt),
		item.FieldUpdatedAt: item.Timestamp(updatedAt),
	}
	if description != nil {
		it[item.FieldDescription] = *description
	}
	if price != nil {
		it[item.FieldPrice] = *price
	}
	for k, v := range attrs {
		it[k] = v
	}
	return it, nil
}
