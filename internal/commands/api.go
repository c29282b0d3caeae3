// Package commands is the front-end boundary of the tracker. Every
// user-initiated mutation and query goes through the API, which validates
// input, enforces the per-subscriber caps, and rejects bad requests with
// an enumerated reason before any state changes.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/dexapi"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/observability"
	"dlmm-tracker/internal/pools"
	"dlmm-tracker/internal/storage"
	"dlmm-tracker/internal/subscribers"
)

// maxPortfolioWallets caps portfolio wallets per subscriber.
const maxPortfolioWallets = 5

// Rejection reasons. Commands fail with one of these and leave the
// subscriber unchanged.
var (
	ErrUnknownToggle    = errors.New("unknown toggle field")
	ErrUnknownThreshold = errors.New("unknown threshold")
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrBadSnooze        = errors.New("snooze minutes must not be negative")
	ErrBadQuietHours    = errors.New("quiet hours must both be 0..23 or both empty")
	ErrBadAddress       = errors.New("not a valid address")
	ErrAddressInUse     = errors.New("address already tracked")
	ErrNotTracked       = errors.New("address not tracked")
	ErrWalletCap        = errors.New("wallet limit reached")
	ErrWatchlistCap     = errors.New("watchlist limit reached")
	ErrPortfolioCap     = errors.New("portfolio wallet limit reached")
	ErrUnknownPool      = errors.New("unknown pool")
	ErrBadTimeframe     = errors.New("timeframe must be 15m, 1h, 4h, or 1d")
)

// PortfolioSyncer runs a portfolio sync; the portfolio engine implements it.
type PortfolioSyncer interface {
	Sync(ctx context.Context, chatID int64) (*domain.PortfolioSnapshot, error)
}

// API executes subscriber commands and read queries.
type API struct {
	cfg       *config.Config
	subs      *subscribers.Manager
	pools     *pools.Registry
	dex       *dexapi.Client
	portfolio PortfolioSyncer
	history   storage.VolumeHistoryStore
	logger    *log.Logger
	now       func() time.Time
}

// Options configures API. History and Portfolio may be nil; the dependent
// operations then degrade (live-API fallback, sync unavailable).
type Options struct {
	Config    *config.Config
	Subs      *subscribers.Manager
	Pools     *pools.Registry
	DEX       *dexapi.Client
	Portfolio PortfolioSyncer
	History   storage.VolumeHistoryStore
	Logger    *log.Logger
}

// New creates the command API.
func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &API{
		cfg:       opts.Config,
		subs:      opts.Subs,
		pools:     opts.Pools,
		dex:       opts.DEX,
		portfolio: opts.Portfolio,
		history:   opts.History,
		logger:    logger,
		now:       time.Now,
	}
}

// toggles maps the closed field set to the subscriber flag it flips.
var toggles = map[string]func(*domain.Subscriber) *bool{
	"enabled":             func(s *domain.Subscriber) *bool { return &s.Enabled },
	"primary_buys":        func(s *domain.Subscriber) *bool { return &s.PrimaryBuys },
	"primary_sells":       func(s *domain.Subscriber) *bool { return &s.PrimarySells },
	"primary_lp_add":      func(s *domain.Subscriber) *bool { return &s.PrimaryLpAdd },
	"primary_lp_remove":   func(s *domain.Subscriber) *bool { return &s.PrimaryLpRemove },
	"track_other_pools":   func(s *domain.Subscriber) *bool { return &s.TrackOtherPools },
	"other_buys":          func(s *domain.Subscriber) *bool { return &s.OtherBuys },
	"other_sells":         func(s *domain.Subscriber) *bool { return &s.OtherSells },
	"other_lp_add":        func(s *domain.Subscriber) *bool { return &s.OtherLpAdd },
	"other_lp_remove":     func(s *domain.Subscriber) *bool { return &s.OtherLpRemove },
	"wallet_alerts":       func(s *domain.Subscriber) *bool { return &s.WalletAlerts },
	"daily_digest":        func(s *domain.Subscriber) *bool { return &s.DailyDigest },
	"new_pool_alerts":     func(s *domain.Subscriber) *bool { return &s.NewPoolAlerts },
	"lock_alerts":         func(s *domain.Subscriber) *bool { return &s.LockAlerts },
	"reward_alerts":       func(s *domain.Subscriber) *bool { return &s.RewardAlerts },
	"close_pool_alerts":   func(s *domain.Subscriber) *bool { return &s.ClosePoolAlerts },
	"protocol_fee_alerts": func(s *domain.Subscriber) *bool { return &s.ProtocolFeeAlerts },
	"admin_alerts":        func(s *domain.Subscriber) *bool { return &s.AdminAlerts },
}

// Toggle flips one preference flag and returns its new value. Re-enabling
// a blocked subscriber through the enabled field clears the block.
func (a *API) Toggle(chatID int64, field string) (bool, error) {
	flag, ok := toggles[field]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownToggle, field)
	}
	var value bool
	a.mutate(chatID, func(s *domain.Subscriber) {
		f := flag(s)
		*f = !*f
		value = *f
		if field == "enabled" && value {
			s.Blocked = false
		}
	})
	return value, nil
}

// SetThreshold sets one USD minimum. which is primary, other_trade, or
// other_lp.
func (a *API) SetThreshold(chatID int64, which string, amountUSD float64) error {
	if amountUSD < 0 {
		return ErrNegativeAmount
	}
	var set func(*domain.Subscriber)
	switch which {
	case "primary":
		set = func(s *domain.Subscriber) { s.PrimaryTradeMin = amountUSD }
	case "other_trade":
		set = func(s *domain.Subscriber) { s.OtherTradeMin = amountUSD }
	case "other_lp":
		set = func(s *domain.Subscriber) { s.OtherLpMin = amountUSD }
	default:
		return fmt.Errorf("%w: %q", ErrUnknownThreshold, which)
	}
	a.mutate(chatID, set)
	return nil
}

// SetSnooze silences the subscriber for the given minutes. Zero clears an
// active snooze.
func (a *API) SetSnooze(chatID int64, minutes int) error {
	if minutes < 0 {
		return ErrBadSnooze
	}
	until := time.Time{}
	if minutes > 0 {
		until = a.now().UTC().Add(time.Duration(minutes) * time.Minute)
	}
	a.mutate(chatID, func(s *domain.Subscriber) { s.SnoozedUntil = until })
	return nil
}

// SetQuietHours sets the daily UTC quiet interval. Both bounds nil clears
// it; otherwise both must be hours 0..23. The interval may wrap midnight.
func (a *API) SetQuietHours(chatID int64, start, end *int) error {
	if (start == nil) != (end == nil) {
		return ErrBadQuietHours
	}
	if start != nil && (*start < 0 || *start > 23 || *end < 0 || *end > 23) {
		return ErrBadQuietHours
	}
	a.mutate(chatID, func(s *domain.Subscriber) {
		if start == nil {
			s.QuietStart, s.QuietEnd = nil, nil
			return
		}
		qs, qe := *start, *end
		s.QuietStart, s.QuietEnd = &qs, &qe
	})
	return nil
}

// AddWallet subscribes the chat to a wallet's transactions. The address
// must be a 32-byte base58 key on the ed25519 curve, must not already be
// tracked in any list, and the wallet cap must not be reached.
func (a *API) AddWallet(chatID int64, address string) error {
	if !onCurve(address) {
		return ErrBadAddress
	}
	return a.addAddress(chatID, address,
		func(s *domain.Subscriber) *[]string { return &s.WalletSubscriptions },
		func(s *domain.Subscriber) error {
			if len(s.WalletSubscriptions) >= a.cfg.MaxWalletsPerUser {
				return ErrWalletCap
			}
			return nil
		})
}

// RemoveWallet drops a wallet subscription.
func (a *API) RemoveWallet(chatID int64, address string) error {
	return a.removeAddress(chatID, address,
		func(s *domain.Subscriber) *[]string { return &s.WalletSubscriptions })
}

// AddPortfolioWallet adds a wallet to the portfolio set, first position is
// the display primary.
func (a *API) AddPortfolioWallet(chatID int64, address string) error {
	if !onCurve(address) {
		return ErrBadAddress
	}
	return a.addAddress(chatID, address,
		func(s *domain.Subscriber) *[]string { return &s.PortfolioWallets },
		func(s *domain.Subscriber) error {
			if len(s.PortfolioWallets) >= maxPortfolioWallets {
				return ErrPortfolioCap
			}
			return nil
		})
}

// RemovePortfolioWallet drops a portfolio wallet.
func (a *API) RemovePortfolioWallet(chatID int64, address string) error {
	return a.removeAddress(chatID, address,
		func(s *domain.Subscriber) *[]string { return &s.PortfolioWallets })
}

// AddWatchlistPool puts a known pool on the watchlist. Watchlist and
// tracked tokens share one cap.
func (a *API) AddWatchlistPool(chatID int64, poolID string) error {
	if a.pools.ByID(poolID) == nil {
		return ErrUnknownPool
	}
	var failed error
	a.mutate(chatID, func(s *domain.Subscriber) {
		if s.WatchesPool(poolID) {
			failed = ErrAddressInUse
			return
		}
		if len(s.Watchlist)+len(s.TrackedTokens) >= a.cfg.MaxWatchlistItems {
			failed = ErrWatchlistCap
			return
		}
		s.Watchlist = append(s.Watchlist, poolID)
	})
	return failed
}

// RemoveWatchlistPool drops a pool from the watchlist.
func (a *API) RemoveWatchlistPool(chatID int64, poolID string) error {
	return a.removeAddress(chatID, poolID,
		func(s *domain.Subscriber) *[]string { return &s.Watchlist })
}

// AddTrackedToken tracks a token mint across all pools. Mints may be
// off-curve program-derived keys, so only the base58 shape is validated.
func (a *API) AddTrackedToken(chatID int64, mint string) error {
	if !validKey(mint) {
		return ErrBadAddress
	}
	return a.addAddress(chatID, mint,
		func(s *domain.Subscriber) *[]string { return &s.TrackedTokens },
		func(s *domain.Subscriber) error {
			if len(s.Watchlist)+len(s.TrackedTokens) >= a.cfg.MaxWatchlistItems {
				return ErrWatchlistCap
			}
			return nil
		})
}

// RemoveTrackedToken drops a tracked token.
func (a *API) RemoveTrackedToken(chatID int64, mint string) error {
	return a.removeAddress(chatID, mint,
		func(s *domain.Subscriber) *[]string { return &s.TrackedTokens })
}

// SyncPortfolio runs a portfolio sync for the chat and returns the fresh
// snapshot, or nil when the chat has no portfolio wallets.
func (a *API) SyncPortfolio(ctx context.Context, chatID int64) (*domain.PortfolioSnapshot, error) {
	a.mutate(chatID, func(*domain.Subscriber) {})
	if a.portfolio == nil {
		return nil, nil
	}
	start := time.Now()
	snap, err := a.portfolio.Sync(ctx, chatID)
	observability.RecordPortfolioSync("manual", statusLabel(err), time.Since(start).Seconds())
	return snap, err
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// GetSubscriber returns a copy of the subscriber, creating it with default
// preferences on first contact.
func (a *API) GetSubscriber(chatID int64) *domain.Subscriber {
	return a.subs.GetOrCreate(chatID)
}

// GetPool returns a pool by address, or nil.
func (a *API) GetPool(id string) *domain.Pool {
	return a.pools.ByID(id)
}

// SearchPools returns pools whose pair name or address contains the
// substring, case-insensitively, ordered by 24h volume descending.
func (a *API) SearchPools(substring string) []*domain.Pool {
	needle := strings.ToLower(strings.TrimSpace(substring))
	if needle == "" {
		return nil
	}
	var out []*domain.Pool
	for _, p := range a.pools.All() {
		if strings.Contains(strings.ToLower(p.PairName), needle) ||
			strings.Contains(strings.ToLower(p.ID), needle) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Volume24hUSD > out[j].Volume24hUSD
	})
	return out
}

// TopPoolsByVolume returns up to n pools by 24h volume.
func (a *API) TopPoolsByVolume(n int) []*domain.Pool {
	return a.pools.TopByVolume(n)
}

// LeaderboardEntry is one wallet's aggregate over recent trades.
type LeaderboardEntry struct {
	Wallet    string
	Trades    int
	VolumeUSD float64
}

// leaderboardTradeDepth is how many recent trades per pool feed the
// leaderboard aggregation.
const leaderboardTradeDepth = 100

// Leaderboard aggregates recent trades by wallet for a pool address or,
// when given a mint, across every pool involving that mint. Entries are
// ordered by volume descending.
func (a *API) Leaderboard(ctx context.Context, poolOrMint string, limit int) ([]LeaderboardEntry, error) {
	var targets []*domain.Pool
	if p := a.pools.ByID(poolOrMint); p != nil {
		targets = []*domain.Pool{p}
	} else if byToken := a.pools.FindByToken(poolOrMint); len(byToken) > 0 {
		targets = byToken
	} else {
		return nil, ErrUnknownPool
	}

	totals := make(map[string]*LeaderboardEntry)
	for _, pool := range targets {
		trades, err := a.dex.Trades(ctx, pool.ID, leaderboardTradeDepth)
		if err != nil {
			a.logger.Printf("[commands] leaderboard trades %s: %v", pool.ID, err)
			continue
		}
		for _, t := range trades {
			if t.Wallet == "" {
				continue
			}
			entry, ok := totals[t.Wallet]
			if !ok {
				entry = &LeaderboardEntry{Wallet: t.Wallet}
				totals[t.Wallet] = entry
			}
			entry.Trades++
			entry.VolumeUSD += t.AmountUSD
		}
	}

	board := make([]LeaderboardEntry, 0, len(totals))
	for _, entry := range totals {
		board = append(board, *entry)
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].VolumeUSD != board[j].VolumeUSD {
			return board[i].VolumeUSD > board[j].VolumeUSD
		}
		return board[i].Wallet < board[j].Wallet
	})
	if limit > 0 && limit < len(board) {
		board = board[:limit]
	}
	return board, nil
}

var timeframes = map[string]bool{"15m": true, "1h": true, "4h": true, "1d": true}

// Candles returns OHLCV bars for a pool.
func (a *API) Candles(ctx context.Context, poolID, tf string, limit int) ([]dexapi.Candle, error) {
	if !timeframes[tf] {
		return nil, fmt.Errorf("%w: %q", ErrBadTimeframe, tf)
	}
	if a.pools.ByID(poolID) == nil {
		return nil, ErrUnknownPool
	}
	return a.dex.Candles(ctx, poolID, tf, limit)
}

// LiquidityHistory returns archived volume/TVL observations for a pool,
// newest first. Without an archive, or when the archive is empty, the
// current snapshot serves as a single-point fallback.
func (a *API) LiquidityHistory(ctx context.Context, poolID string, limit int) ([]*domain.PoolVolumePoint, error) {
	pool := a.pools.ByID(poolID)
	if pool == nil {
		return nil, ErrUnknownPool
	}

	if a.history != nil {
		points, err := a.history.GetByPool(ctx, poolID, limit)
		if err != nil {
			a.logger.Printf("[commands] liquidity history %s: %v", poolID, err)
		} else if len(points) > 0 {
			return points, nil
		}
	}

	point := &domain.PoolVolumePoint{
		PoolID:       pool.ID,
		PairName:     pool.PairName,
		Volume24hUSD: pool.Volume24hUSD,
		CapturedAt:   a.pools.UpdatedAt(),
	}
	if pool.TVLUSD != nil {
		point.TVLUSD = *pool.TVLUSD
	}
	return []*domain.PoolVolumePoint{point}, nil
}

// mutate applies fn through the manager and stamps activity.
func (a *API) mutate(chatID int64, fn func(*domain.Subscriber)) {
	now := a.now().UTC()
	a.subs.Update(chatID, func(s *domain.Subscriber) {
		s.LastActive = now
		fn(s)
	})
}

// addAddress appends to one relation list after the uniqueness and cap
// checks. An address may appear in at most one of the three address lists.
func (a *API) addAddress(chatID int64, address string, list func(*domain.Subscriber) *[]string, capCheck func(*domain.Subscriber) error) error {
	var failed error
	a.mutate(chatID, func(s *domain.Subscriber) {
		if addressInUse(s, address) {
			failed = ErrAddressInUse
			return
		}
		if err := capCheck(s); err != nil {
			failed = err
			return
		}
		target := list(s)
		*target = append(*target, address)
	})
	return failed
}

// removeAddress deletes from one relation list, rejecting absent entries.
func (a *API) removeAddress(chatID int64, address string, list func(*domain.Subscriber) *[]string) error {
	failed := ErrNotTracked
	a.mutate(chatID, func(s *domain.Subscriber) {
		target := list(s)
		for i, item := range *target {
			if item == address {
				*target = append((*target)[:i], (*target)[i+1:]...)
				failed = nil
				return
			}
		}
	})
	return failed
}

func addressInUse(s *domain.Subscriber, address string) bool {
	return contains(s.WalletSubscriptions, address) ||
		contains(s.PortfolioWallets, address) ||
		contains(s.TrackedTokens, address)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// validKey reports whether the string is a 32-byte base58 key.
func validKey(address string) bool {
	raw, err := base58.Decode(address)
	return err == nil && len(raw) == 32
}

// onCurve reports whether the key decodes to a point on the ed25519
// curve. Wallet keys are on-curve; program-derived addresses are not.
func onCurve(address string) bool {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
