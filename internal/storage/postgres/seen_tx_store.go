package postgres

import (
	"context"
	"fmt"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// SeenTxStore implements storage.SeenTxStore using PostgreSQL. It mirrors
// the in-memory dedup sets so a restart does not re-alert inside the
// dedup horizon.
type SeenTxStore struct {
	pool *Pool
}

// NewSeenTxStore creates a new SeenTxStore.
func NewSeenTxStore(pool *Pool) *SeenTxStore {
	return &SeenTxStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SeenTxStore = (*SeenTxStore)(nil)

// Insert records a signature. Duplicate (signature, source) pairs are
// ignored.
func (s *SeenTxStore) Insert(ctx context.Context, tx storage.SeenTx) error {
	if tx.Signature == "" || tx.Source == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO seen_txs (signature, source, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (signature, source) DO NOTHING
	`, tx.Signature, string(tx.Source), tx.AddedAt)
	if err != nil {
		return fmt.Errorf("insert seen tx: %w", err)
	}
	return nil
}

// LoadSince retrieves every row added at or after the cutoff.
func (s *SeenTxStore) LoadSince(ctx context.Context, cutoff time.Time) ([]storage.SeenTx, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT signature, source, added_at
		FROM seen_txs
		WHERE added_at >= $1
		ORDER BY added_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load seen txs: %w", err)
	}
	defer rows.Close()

	var txs []storage.SeenTx
	for rows.Next() {
		var (
			tx     storage.SeenTx
			source string
		)
		if err := rows.Scan(&tx.Signature, &source, &tx.AddedAt); err != nil {
			return nil, fmt.Errorf("scan seen tx row: %w", err)
		}
		tx.Source = domain.AlertSource(source)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen tx rows: %w", err)
	}
	return txs, nil
}

// DeleteOlderThan removes rows added before the cutoff and returns the
// number removed.
func (s *SeenTxStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM seen_txs WHERE added_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete seen txs: %w", err)
	}
	return tag.RowsAffected(), nil
}
