package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// SubscriberStore implements storage.SubscriberStore using PostgreSQL.
// Each Upsert replaces the subscriber row and its relation tables in one
// transaction, so readers never see a half-written subscriber.
type SubscriberStore struct {
	pool            *Pool
	maxRecentAlerts int
}

// NewSubscriberStore creates a new SubscriberStore. maxRecentAlerts caps
// the recent_alerts rows kept per subscriber.
func NewSubscriberStore(pool *Pool, maxRecentAlerts int) *SubscriberStore {
	return &SubscriberStore{pool: pool, maxRecentAlerts: maxRecentAlerts}
}

// Compile-time interface check.
var _ storage.SubscriberStore = (*SubscriberStore)(nil)

// Upsert writes the subscriber row and replaces its relations, trimming
// recent_alerts to the configured cap.
func (s *SubscriberStore) Upsert(ctx context.Context, sub *domain.Subscriber) error {
	if sub == nil || sub.ChatID == 0 {
		return storage.ErrInvalidInput
	}

	dailyStats, err := json.Marshal(sub.DailyStats)
	if err != nil {
		return fmt.Errorf("marshal daily stats: %w", err)
	}
	lifetimeStats, err := json.Marshal(sub.LifetimeStats)
	if err != nil {
		return fmt.Errorf("marshal lifetime stats: %w", err)
	}
	var portfolio []byte
	if sub.Portfolio != nil {
		if portfolio, err = json.Marshal(sub.Portfolio); err != nil {
			return fmt.Errorf("marshal portfolio: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO subscribers (
			chat_id, created_at, last_active, enabled, blocked, onboarded,
			snoozed_until, quiet_start, quiet_end,
			primary_buys, primary_sells, primary_lp_add, primary_lp_remove,
			track_other_pools, other_buys, other_sells, other_lp_add, other_lp_remove,
			wallet_alerts, daily_digest, new_pool_alerts, lock_alerts,
			reward_alerts, close_pool_alerts, protocol_fee_alerts, admin_alerts,
			primary_trade_min, other_trade_min, other_lp_min,
			daily_stats, lifetime_stats, portfolio
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
			$29, $30, $31, $32
		)
		ON CONFLICT (chat_id) DO UPDATE SET
			last_active = EXCLUDED.last_active,
			enabled = EXCLUDED.enabled,
			blocked = EXCLUDED.blocked,
			onboarded = EXCLUDED.onboarded,
			snoozed_until = EXCLUDED.snoozed_until,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			primary_buys = EXCLUDED.primary_buys,
			primary_sells = EXCLUDED.primary_sells,
			primary_lp_add = EXCLUDED.primary_lp_add,
			primary_lp_remove = EXCLUDED.primary_lp_remove,
			track_other_pools = EXCLUDED.track_other_pools,
			other_buys = EXCLUDED.other_buys,
			other_sells = EXCLUDED.other_sells,
			other_lp_add = EXCLUDED.other_lp_add,
			other_lp_remove = EXCLUDED.other_lp_remove,
			wallet_alerts = EXCLUDED.wallet_alerts,
			daily_digest = EXCLUDED.daily_digest,
			new_pool_alerts = EXCLUDED.new_pool_alerts,
			lock_alerts = EXCLUDED.lock_alerts,
			reward_alerts = EXCLUDED.reward_alerts,
			close_pool_alerts = EXCLUDED.close_pool_alerts,
			protocol_fee_alerts = EXCLUDED.protocol_fee_alerts,
			admin_alerts = EXCLUDED.admin_alerts,
			primary_trade_min = EXCLUDED.primary_trade_min,
			other_trade_min = EXCLUDED.other_trade_min,
			other_lp_min = EXCLUDED.other_lp_min,
			daily_stats = EXCLUDED.daily_stats,
			lifetime_stats = EXCLUDED.lifetime_stats,
			portfolio = EXCLUDED.portfolio
	`

	var snoozed any
	if !sub.SnoozedUntil.IsZero() {
		snoozed = sub.SnoozedUntil
	}

	_, err = tx.Exec(ctx, query,
		sub.ChatID, sub.CreatedAt, sub.LastActive, sub.Enabled, sub.Blocked, sub.Onboarded,
		snoozed, sub.QuietStart, sub.QuietEnd,
		sub.PrimaryBuys, sub.PrimarySells, sub.PrimaryLpAdd, sub.PrimaryLpRemove,
		sub.TrackOtherPools, sub.OtherBuys, sub.OtherSells, sub.OtherLpAdd, sub.OtherLpRemove,
		sub.WalletAlerts, sub.DailyDigest, sub.NewPoolAlerts, sub.LockAlerts,
		sub.RewardAlerts, sub.ClosePoolAlerts, sub.ProtocolFeeAlerts, sub.AdminAlerts,
		sub.PrimaryTradeMin, sub.OtherTradeMin, sub.OtherLpMin,
		dailyStats, lifetimeStats, portfolio,
	)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}

	if err := replaceList(ctx, tx, "whale_wallets", "wallet", sub.ChatID, sub.WalletSubscriptions); err != nil {
		return err
	}
	if err := replaceList(ctx, tx, "watchlist", "pool_id", sub.ChatID, sub.Watchlist); err != nil {
		return err
	}
	if err := replaceList(ctx, tx, "tracked_tokens", "mint", sub.ChatID, sub.TrackedTokens); err != nil {
		return err
	}

	// Portfolio wallets carry their order; the first is the display primary.
	if _, err := tx.Exec(ctx, `DELETE FROM portfolio_wallets WHERE chat_id = $1`, sub.ChatID); err != nil {
		return fmt.Errorf("clear portfolio_wallets: %w", err)
	}
	for i, wallet := range sub.PortfolioWallets {
		_, err := tx.Exec(ctx,
			`INSERT INTO portfolio_wallets (chat_id, wallet, position) VALUES ($1, $2, $3)`,
			sub.ChatID, wallet, i)
		if err != nil {
			return fmt.Errorf("insert portfolio wallet: %w", err)
		}
	}

	if err := s.replaceRecentAlerts(ctx, tx, sub); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func replaceList(ctx context.Context, tx pgx.Tx, table, column string, chatID int64, values []string) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chat_id = $1`, table), chatID); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for _, v := range values {
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (chat_id, %s) VALUES ($1, $2)`, table, column),
			chatID, v)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

func (s *SubscriberStore) replaceRecentAlerts(ctx context.Context, tx pgx.Tx, sub *domain.Subscriber) error {
	if _, err := tx.Exec(ctx, `DELETE FROM recent_alerts WHERE chat_id = $1`, sub.ChatID); err != nil {
		return fmt.Errorf("clear recent_alerts: %w", err)
	}
	for _, a := range sub.RecentAlerts {
		_, err := tx.Exec(ctx, `
			INSERT INTO recent_alerts (chat_id, event_type, pool_id, signature, usd, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, sub.ChatID, string(a.Type), a.PoolID, a.Signature, a.USD, a.SentAt)
		if err != nil {
			return fmt.Errorf("insert recent alert: %w", err)
		}
	}

	// Trim after insert so the cap holds even when the in-memory ring was
	// built against a larger configured cap.
	_, err := tx.Exec(ctx, `
		DELETE FROM recent_alerts
		WHERE chat_id = $1 AND id NOT IN (
			SELECT id FROM recent_alerts
			WHERE chat_id = $1
			ORDER BY sent_at DESC, id DESC
			LIMIT $2
		)
	`, sub.ChatID, s.maxRecentAlerts)
	if err != nil {
		return fmt.Errorf("trim recent_alerts: %w", err)
	}
	return nil
}

// GetByChatID retrieves a subscriber with relations attached. Returns
// ErrNotFound if not exists.
func (s *SubscriberStore) GetByChatID(ctx context.Context, chatID int64) (*domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, subscriberSelect+` WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	defer rows.Close()

	subs, err := scanSubscribers(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, storage.ErrNotFound
	}

	sub := subs[0]
	if err := s.attachRelations(ctx, map[int64]*domain.Subscriber{chatID: sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetAll retrieves every subscriber with relations attached.
func (s *SubscriberStore) GetAll(ctx context.Context) ([]*domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, subscriberSelect+` ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("get all subscribers: %w", err)
	}
	defer rows.Close()

	subs, err := scanSubscribers(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}

	byID := make(map[int64]*domain.Subscriber, len(subs))
	for _, sub := range subs {
		byID[sub.ChatID] = sub
	}
	if err := s.attachRelations(ctx, byID); err != nil {
		return nil, err
	}
	return subs, nil
}

// Delete removes a subscriber; relation rows cascade.
func (s *SubscriberStore) Delete(ctx context.Context, chatID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscribers WHERE chat_id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const subscriberSelect = `
	SELECT chat_id, created_at, last_active, enabled, blocked, onboarded,
		snoozed_until, quiet_start, quiet_end,
		primary_buys, primary_sells, primary_lp_add, primary_lp_remove,
		track_other_pools, other_buys, other_sells, other_lp_add, other_lp_remove,
		wallet_alerts, daily_digest, new_pool_alerts, lock_alerts,
		reward_alerts, close_pool_alerts, protocol_fee_alerts, admin_alerts,
		primary_trade_min, other_trade_min, other_lp_min,
		daily_stats, lifetime_stats, portfolio
	FROM subscribers`

func scanSubscribers(rows pgx.Rows) ([]*domain.Subscriber, error) {
	var subs []*domain.Subscriber

	for rows.Next() {
		var (
			sub           domain.Subscriber
			snoozed       *time.Time
			dailyStats    []byte
			lifetimeStats []byte
			portfolio     []byte
		)

		err := rows.Scan(
			&sub.ChatID, &sub.CreatedAt, &sub.LastActive, &sub.Enabled, &sub.Blocked, &sub.Onboarded,
			&snoozed, &sub.QuietStart, &sub.QuietEnd,
			&sub.PrimaryBuys, &sub.PrimarySells, &sub.PrimaryLpAdd, &sub.PrimaryLpRemove,
			&sub.TrackOtherPools, &sub.OtherBuys, &sub.OtherSells, &sub.OtherLpAdd, &sub.OtherLpRemove,
			&sub.WalletAlerts, &sub.DailyDigest, &sub.NewPoolAlerts, &sub.LockAlerts,
			&sub.RewardAlerts, &sub.ClosePoolAlerts, &sub.ProtocolFeeAlerts, &sub.AdminAlerts,
			&sub.PrimaryTradeMin, &sub.OtherTradeMin, &sub.OtherLpMin,
			&dailyStats, &lifetimeStats, &portfolio,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber row: %w", err)
		}

		if snoozed != nil {
			sub.SnoozedUntil = *snoozed
		}
		if err := json.Unmarshal(dailyStats, &sub.DailyStats); err != nil {
			return nil, fmt.Errorf("unmarshal daily stats: %w", err)
		}
		if err := json.Unmarshal(lifetimeStats, &sub.LifetimeStats); err != nil {
			return nil, fmt.Errorf("unmarshal lifetime stats: %w", err)
		}
		if len(portfolio) > 0 {
			sub.Portfolio = &domain.PortfolioSnapshot{}
			if err := json.Unmarshal(portfolio, sub.Portfolio); err != nil {
				return nil, fmt.Errorf("unmarshal portfolio: %w", err)
			}
		}

		subs = append(subs, &sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriber rows: %w", err)
	}
	return subs, nil
}

// attachRelations loads every relation table for the given subscribers.
func (s *SubscriberStore) attachRelations(ctx context.Context, byID map[int64]*domain.Subscriber) error {
	err := loadList(ctx, s.pool, `SELECT chat_id, wallet FROM whale_wallets ORDER BY wallet`,
		byID, func(sub *domain.Subscriber, v string) {
			sub.WalletSubscriptions = append(sub.WalletSubscriptions, v)
		})
	if err != nil {
		return err
	}
	err = loadList(ctx, s.pool, `SELECT chat_id, pool_id FROM watchlist ORDER BY pool_id`,
		byID, func(sub *domain.Subscriber, v string) {
			sub.Watchlist = append(sub.Watchlist, v)
		})
	if err != nil {
		return err
	}
	err = loadList(ctx, s.pool, `SELECT chat_id, mint FROM tracked_tokens ORDER BY mint`,
		byID, func(sub *domain.Subscriber, v string) {
			sub.TrackedTokens = append(sub.TrackedTokens, v)
		})
	if err != nil {
		return err
	}
	err = loadList(ctx, s.pool, `SELECT chat_id, wallet FROM portfolio_wallets ORDER BY position`,
		byID, func(sub *domain.Subscriber, v string) {
			sub.PortfolioWallets = append(sub.PortfolioWallets, v)
		})
	if err != nil {
		return err
	}
	return s.loadRecentAlerts(ctx, byID)
}

func loadList(ctx context.Context, pool *Pool, query string, byID map[int64]*domain.Subscriber, add func(*domain.Subscriber, string)) error {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("load relation: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chatID int64
			value  string
		)
		if err := rows.Scan(&chatID, &value); err != nil {
			return fmt.Errorf("scan relation row: %w", err)
		}
		if sub, ok := byID[chatID]; ok {
			add(sub, value)
		}
	}
	return rows.Err()
}

func (s *SubscriberStore) loadRecentAlerts(ctx context.Context, byID map[int64]*domain.Subscriber) error {
	rows, err := s.pool.Query(ctx, `
		SELECT chat_id, event_type, pool_id, signature, usd, sent_at
		FROM recent_alerts
		ORDER BY sent_at ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("load recent alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chatID    int64
			eventType string
			alert     domain.RecentAlert
		)
		if err := rows.Scan(&chatID, &eventType, &alert.PoolID, &alert.Signature, &alert.USD, &alert.SentAt); err != nil {
			return fmt.Errorf("scan recent alert row: %w", err)
		}
		alert.Type = domain.EventType(eventType)
		if sub, ok := byID[chatID]; ok {
			sub.RecentAlerts = append(sub.RecentAlerts, alert)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate recent alert rows: %w", err)
	}

	// The ring is oldest-first in memory; enforce regardless of the
	// insertion order above.
	for _, sub := range byID {
		sort.SliceStable(sub.RecentAlerts, func(i, j int) bool {
			return sub.RecentAlerts[i].SentAt.Before(sub.RecentAlerts[j].SentAt)
		})
	}
	return nil
}
