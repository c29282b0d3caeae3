package memory

import (
	"context"
	"sort"
	"sync"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// VolumeHistoryStore is an in-memory implementation of
// storage.VolumeHistoryStore.
type VolumeHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.PoolVolumePoint // keyed by pool id
}

// NewVolumeHistoryStore creates a new in-memory volume history store.
func NewVolumeHistoryStore() *VolumeHistoryStore {
	return &VolumeHistoryStore{
		data: make(map[string][]*domain.PoolVolumePoint),
	}
}

// InsertBulk appends a batch of observations.
func (s *VolumeHistoryStore) InsertBulk(_ context.Context, points []*domain.PoolVolumePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p == nil || p.PoolID == "" {
			return storage.ErrInvalidInput
		}
		pointCopy := *p
		s.data[p.PoolID] = append(s.data[p.PoolID], &pointCopy)
	}
	return nil
}

// GetByPool retrieves the most recent observations, newest first.
func (s *VolumeHistoryStore) GetByPool(_ context.Context, poolID string, limit int) ([]*domain.PoolVolumePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.data[poolID]
	result := make([]*domain.PoolVolumePoint, len(points))
	for i, p := range points {
		pointCopy := *p
		result[i] = &pointCopy
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CapturedAt.After(result[j].CapturedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.VolumeHistoryStore = (*VolumeHistoryStore)(nil)
