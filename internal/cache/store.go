package cache

import (
	"context"
	"time"
)

// Store is a shared second-level cache behind the in-process LRU.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore adapts an LRU to the Store interface.
type MemoryStore struct {
	LRU *LRU
}

func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{LRU: NewLRU(capacity)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.LRU.Get(key)
	if !ok {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.LRU.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.LRU.Delete(key)
	return nil
}
