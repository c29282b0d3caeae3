package clickhouse

import (
	"context"
	"fmt"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// VolumeHistoryStore implements storage.VolumeHistoryStore using ClickHouse.
// The archive is append-only; the 5-minute volume refresh writes one row
// per pool per capture.
type VolumeHistoryStore struct {
	conn *Conn
}

// NewVolumeHistoryStore creates a new VolumeHistoryStore.
func NewVolumeHistoryStore(conn *Conn) *VolumeHistoryStore {
	return &VolumeHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.VolumeHistoryStore = (*VolumeHistoryStore)(nil)

// InsertBulk appends a batch of observations.
func (s *VolumeHistoryStore) InsertBulk(ctx context.Context, points []*domain.PoolVolumePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pool_volume_history (
			pool_id, pair_name, volume_24h_usd, tvl_usd, captured_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if p == nil || p.PoolID == "" {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			p.PoolID, p.PairName, p.Volume24hUSD, p.TVLUSD, p.CapturedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPool retrieves the most recent observations for a pool, newest
// first, up to limit.
func (s *VolumeHistoryStore) GetByPool(ctx context.Context, poolID string, limit int) ([]*domain.PoolVolumePoint, error) {
	query := `
		SELECT pool_id, pair_name, volume_24h_usd, tvl_usd, captured_at
		FROM pool_volume_history
		WHERE pool_id = ?
		ORDER BY captured_at DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, poolID, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("get volume history: %w", err)
	}
	defer rows.Close()

	var points []*domain.PoolVolumePoint
	for rows.Next() {
		var p domain.PoolVolumePoint
		err := rows.Scan(
			&p.PoolID,
			&p.PairName,
			&p.Volume24hUSD,
			&p.TVLUSD,
			&p.CapturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan volume history row: %w", err)
		}
		points = append(points, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volume history rows: %w", err)
	}

	return points, nil
}
