// Package store provides the retry-queue persistence backends: an in-process
// slice for tests and short-lived deployments, and a sqlite table that
// survives restarts.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/marquee-labs/marquee/pkg/push"
)

// MemoryRetryStore keeps retry items in an in-process FIFO slice. Contents
// are lost on restart; redelivery is best-effort by design.
type MemoryRetryStore struct {
	mu    sync.Mutex
	items []push.Item
}

// NewMemoryRetryStore creates an empty store.
func NewMemoryRetryStore() *MemoryRetryStore {
	return &MemoryRetryStore{}
}

func (s *MemoryRetryStore) Append(ctx context.Context, item push.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.ID == item.ID {
			return nil
		}
	}
	s.items = append(s.items, item)
	return nil
}

func (s *MemoryRetryStore) List(ctx context.Context) ([]push.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]push.Item, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *MemoryRetryStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryRetryStore) Touch(ctx context.Context, id string, attemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].LastAttemptAt = attemptAt
			return nil
		}
	}
	return nil
}

func (s *MemoryRetryStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}
