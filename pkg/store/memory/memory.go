// Package memory provides a mutex-guarded in-process store backend. It is the
// reference implementation of the store contract, used in tests and for local
// development without external services.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/edgeloop/itemd/pkg/changelog"
	"github.com/edgeloop/itemd/pkg/item"
	"github.com/edgeloop/itemd/pkg/store"
)

// Store holds items in a map. Mutations append change records to the
// configured log.
type Store struct {
	mu    sync.RWMutex
	items map[string]item.Item
	log   changelog.Appender
}

// New returns an empty memory store. The appender may be nil, in which case no
// change records are emitted.
func New(log changelog.Appender) *Store {
	return &Store{items: make(map[string]item.Item), log: log}
}

func (s *Store) List(_ context.Context) ([]item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]item.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.Clone())
	}
	// map order is random; keep list output stable
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return it.Clone(), nil
}

func (s *Store) Create(ctx context.Context, it item.Item) error {
	s.mu.Lock()
	s.items[it.ID()] = it.Clone()
	s.mu.Unlock()
	return s.append(ctx, item.Inserted(it.Clone()))
}

func (s *Store) Update(ctx context.Context, id string, patch item.Item) (item.Item, error) {
	s.mu.Lock()
	before, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	merged := item.Merge(before, patch)
	s.items[id] = merged
	s.mu.Unlock()

	if err := s.append(ctx, item.Modified(before.Clone(), merged.Clone())); err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) (item.Item, error) {
	s.mu.Lock()
	before, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	delete(s.items, id)
	s.mu.Unlock()

	if err := s.append(ctx, item.Removed(before.Clone())); err != nil {
		return nil, err
	}
	return before.Clone(), nil
}

func (s *Store) Close() {}

func (s *Store) append(ctx context.Context, change item.Change) error {
	if s.log == nil {
		return nil
	}
	return s.log.Append(ctx, change)
}
