package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dlmm-tracker/internal/storage"
)

type seenKey struct {
	sig    string
	source string
}

// SeenTxStore is an in-memory implementation of storage.SeenTxStore.
type SeenTxStore struct {
	mu   sync.RWMutex
	data map[seenKey]storage.SeenTx
}

// NewSeenTxStore creates a new in-memory seen-transaction store.
func NewSeenTxStore() *SeenTxStore {
	return &SeenTxStore{
		data: make(map[seenKey]storage.SeenTx),
	}
}

// Insert records a signature. Duplicates are ignored.
func (s *SeenTxStore) Insert(_ context.Context, tx storage.SeenTx) error {
	if tx.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seenKey{sig: tx.Signature, source: string(tx.Source)}
	if _, exists := s.data[key]; exists {
		return nil
	}
	s.data[key] = tx
	return nil
}

// LoadSince retrieves rows added at or after the cutoff, oldest first.
func (s *SeenTxStore) LoadSince(_ context.Context, cutoff time.Time) ([]storage.SeenTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.SeenTx
	for _, tx := range s.data {
		if !tx.AddedAt.Before(cutoff) {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AddedAt.Before(result[j].AddedAt)
	})
	return result, nil
}

// DeleteOlderThan removes rows added before the cutoff.
func (s *SeenTxStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, tx := range s.data {
		if tx.AddedAt.Before(cutoff) {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

// Verify interface compliance at compile time.
var _ storage.SeenTxStore = (*SeenTxStore)(nil)
