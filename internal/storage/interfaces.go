package storage

import (
	"context"
	"time"

	"dlmm-tracker/internal/domain"
)

// SeenTx is one durable dedup row.
type SeenTx struct {
	Signature string
	Source    domain.AlertSource
	AddedAt   time.Time
}

// SubscriberStore provides access to subscribers and their relations.
// Writes are transactional per subscriber.
type SubscriberStore interface {
	// Upsert writes the subscriber row and replaces its relations,
	// trimming recent_alerts to the configured cap.
	Upsert(ctx context.Context, s *domain.Subscriber) error

	// GetByChatID retrieves a subscriber. Returns ErrNotFound if not exists.
	GetByChatID(ctx context.Context, chatID int64) (*domain.Subscriber, error)

	// GetAll retrieves every subscriber with relations attached.
	GetAll(ctx context.Context) ([]*domain.Subscriber, error)

	// Delete removes a subscriber and its relations.
	Delete(ctx context.Context, chatID int64) error
}

// SeenTxStore mirrors the in-memory dedup sets so a restart does not
// re-alert inside the 24-h horizon.
type SeenTxStore interface {
	// Insert records a signature. Duplicate (signature, source) pairs
	// are ignored.
	Insert(ctx context.Context, tx SeenTx) error

	// LoadSince retrieves every row added at or after the cutoff.
	LoadSince(ctx context.Context, cutoff time.Time) ([]SeenTx, error)

	// DeleteOlderThan removes rows added before the cutoff and returns
	// the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// VolumeHistoryStore archives per-pool volume observations for the
// liquidity/volume history queries.
type VolumeHistoryStore interface {
	// InsertBulk appends a batch of observations.
	InsertBulk(ctx context.Context, points []*domain.PoolVolumePoint) error

	// GetByPool retrieves the most recent observations for a pool,
	// newest first, up to limit.
	GetByPool(ctx context.Context, poolID string, limit int) ([]*domain.PoolVolumePoint, error)
}
