package memory

import (
	"context"
	"sort"
	"sync"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// SubscriberStore is an in-memory implementation of storage.SubscriberStore.
type SubscriberStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.Subscriber
}

// NewSubscriberStore creates a new in-memory subscriber store.
func NewSubscriberStore() *SubscriberStore {
	return &SubscriberStore{
		data: make(map[int64]*domain.Subscriber),
	}
}

// Upsert writes the subscriber, replacing any existing state.
func (s *SubscriberStore) Upsert(_ context.Context, sub *domain.Subscriber) error {
	if sub == nil || sub.ChatID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sub.ChatID] = sub.Clone()
	return nil
}

// GetByChatID retrieves a subscriber. Returns ErrNotFound if not exists.
func (s *SubscriberStore) GetByChatID(_ context.Context, chatID int64) (*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.data[chatID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return sub.Clone(), nil
}

// GetAll retrieves every subscriber ordered by chat id.
func (s *SubscriberStore) GetAll(_ context.Context) ([]*domain.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Subscriber, 0, len(s.data))
	for _, sub := range s.data {
		result = append(result, sub.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ChatID < result[j].ChatID
	})
	return result, nil
}

// Delete removes a subscriber.
func (s *SubscriberStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[chatID]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, chatID)
	return nil
}

// Verify interface compliance at compile time.
var _ storage.SubscriberStore = (*SubscriberStore)(nil)
