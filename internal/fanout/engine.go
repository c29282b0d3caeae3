// Package fanout evaluates each classified event against every
// subscriber's preferences and delivers alerts through the notification
// sink, pacing sends to the chat platform's ceiling.
package fanout

import (
	"context"
	"log"
	"sort"
	"time"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/notify"
	"dlmm-tracker/internal/observability"
	"dlmm-tracker/internal/subscribers"
)

const (
	// batchSize and batchPause pace deliveries: after every batchSize
	// sends the engine sleeps batchPause.
	batchSize  = 20
	batchPause = 100 * time.Millisecond

	// maxRateLimitRetries bounds retries for a single recipient when the
	// sink keeps reporting throttling.
	maxRateLimitRetries = 3
)

// PoolSource resolves pools for primary/other classification and for
// message rendering.
type PoolSource interface {
	ByID(id string) *domain.Pool
}

// Engine fans classified events out to matching subscribers.
type Engine struct {
	cfg    *config.Config
	subs   *subscribers.Manager
	sink   notify.Sink
	pools  PoolSource
	symbol func(mint string) string
	logger *log.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

// Options configures an Engine.
type Options struct {
	Config      *config.Config
	Subscribers *subscribers.Manager
	Sink        notify.Sink
	Pools       PoolSource
	// Symbol renders a mint as a display symbol. Optional.
	Symbol func(mint string) string
	Logger *log.Logger
}

// NewEngine creates a fan-out engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	symbol := opts.Symbol
	if symbol == nil {
		symbol = shortMint
	}
	return &Engine{
		cfg:    opts.Config,
		subs:   opts.Subscribers,
		sink:   opts.Sink,
		pools:  opts.Pools,
		symbol: symbol,
		logger: logger,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// Dispatch delivers ev to every subscriber whose preferences match.
// Returns the number of successful sends.
func (e *Engine) Dispatch(ctx context.Context, ev *domain.Event) int {
	if ev == nil || ev.Type == domain.EventUnknown || ev.Type == domain.EventSyncStake {
		return 0
	}

	now := e.now().UTC()
	var pool *domain.Pool
	if e.pools != nil && ev.PoolID != "" {
		pool = e.pools.ByID(ev.PoolID)
	}

	var recipients []int64
	e.subs.ForEach(func(sub *domain.Subscriber) {
		if !sub.Enabled || sub.Blocked || sub.IsSnoozed(now) {
			return
		}
		if e.wants(sub, ev, pool) {
			recipients = append(recipients, sub.ChatID)
		}
	})
	if len(recipients) == 0 {
		return 0
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i] < recipients[j] })

	msg := e.render(ev, pool)

	start := e.now()
	sent := 0
	for i, chatID := range recipients {
		if i > 0 && i%batchSize == 0 {
			e.sleep(batchPause)
		}
		if e.deliver(ctx, chatID, msg, ev) {
			sent++
		}
	}
	observability.DefaultMetrics.FanoutDuration.Observe(e.now().Sub(start).Seconds())
	return sent
}

// deliver sends one alert and, on success, records it in the recipient's
// alert ring and counters.
func (e *Engine) deliver(ctx context.Context, chatID int64, msg notify.Message, ev *domain.Event) bool {
	if !e.send(ctx, chatID, msg) {
		return false
	}
	e.recordSent(chatID, ev)
	return true
}

// send pushes one message through the sink, honoring rate-limit retries
// and permanent block signals. Reports whether the send succeeded.
func (e *Engine) send(ctx context.Context, chatID int64, msg notify.Message) bool {
	for attempt := 0; ; attempt++ {
		res := e.sink.Send(ctx, chatID, msg)
		switch res.Status {
		case notify.SentOk:
			observability.RecordNotification("sent")
			return true
		case notify.RateLimited:
			if attempt >= maxRateLimitRetries {
				e.logger.Printf("[fanout] chat %d still throttled after %d retries, giving up", chatID, attempt)
				observability.RecordNotification("rate_limited")
				return false
			}
			wait := res.RetryAfter
			if wait <= 0 {
				wait = time.Second
			}
			e.sleep(wait)
		case notify.BlockedUser:
			e.subs.Update(chatID, func(sub *domain.Subscriber) {
				sub.Enabled = false
				sub.Blocked = true
			})
			e.logger.Printf("[fanout] chat %d blocked the bot, disabling", chatID)
			observability.RecordNotification("blocked")
			return false
		default:
			e.logger.Printf("[fanout] chat %d transient send failure", chatID)
			observability.RecordNotification("transient_error")
			return false
		}
	}
}

// recordSent appends to the recent-alert ring and bumps counters. The
// manager schedules the debounced persist.
func (e *Engine) recordSent(chatID int64, ev *domain.Event) {
	sentAt := e.now().UTC()
	e.subs.Update(chatID, func(sub *domain.Subscriber) {
		sub.RecentAlerts = append(sub.RecentAlerts, domain.RecentAlert{
			Type:      ev.Type,
			PoolID:    ev.PoolID,
			Signature: ev.Signature,
			USD:       ev.USD,
			SentAt:    sentAt,
		})
		if max := e.cfg.MaxRecentAlerts; max > 0 && len(sub.RecentAlerts) > max {
			sub.RecentAlerts = sub.RecentAlerts[len(sub.RecentAlerts)-max:]
		}
		bumpStats(&sub.DailyStats, ev)
		bumpStats(&sub.LifetimeStats, ev)
	})
}

func bumpStats(st *domain.Stats, ev *domain.Event) {
	st.Alerts++
	st.VolumeUSD += ev.USD
	switch ev.Type {
	case domain.EventSwap:
		st.SwapAlerts++
	case domain.EventLpAdd, domain.EventLpRemove:
		st.LpAlerts++
	case domain.EventWalletTx:
		st.WalletAlerts++
	}
}

// wants evaluates the per-event-type predicate for one subscriber.
func (e *Engine) wants(sub *domain.Subscriber, ev *domain.Event, pool *domain.Pool) bool {
	primary := pool != nil && pool.IsPrimary

	switch ev.Type {
	case domain.EventSwap:
		if primary {
			if ev.USD < sub.PrimaryTradeMin {
				return false
			}
			if ev.Direction == domain.DirectionBuy {
				return sub.PrimaryBuys
			}
			return sub.PrimarySells
		}
		if !sub.TrackOtherPools || ev.USD < sub.OtherTradeMin {
			return false
		}
		if !e.interested(sub, ev, pool) {
			return false
		}
		if ev.Direction == domain.DirectionBuy {
			return sub.OtherBuys
		}
		return sub.OtherSells

	case domain.EventLpAdd:
		if primary {
			return sub.PrimaryLpAdd && ev.USD >= sub.PrimaryTradeMin
		}
		return sub.TrackOtherPools && sub.OtherLpAdd && ev.USD >= sub.OtherLpMin

	case domain.EventLpRemove:
		if primary {
			return sub.PrimaryLpRemove && ev.USD >= sub.PrimaryTradeMin
		}
		return sub.TrackOtherPools && sub.OtherLpRemove && ev.USD >= sub.OtherLpMin

	case domain.EventPoolInit:
		return sub.NewPoolAlerts
	case domain.EventLockLiquidity, domain.EventUnlockLiquidity:
		return sub.LockAlerts
	case domain.EventClaimRewards, domain.EventFeesDistributed:
		return sub.RewardAlerts
	case domain.EventClosePool:
		return sub.ClosePoolAlerts
	case domain.EventProtocolFees:
		return sub.ProtocolFeeAlerts
	case domain.EventAdmin, domain.EventSetup:
		return sub.AdminAlerts

	case domain.EventWalletTx:
		return sub.WalletAlerts && sub.HasWallet(ev.Wallet)
	}
	return false
}

// interested reports whether an other-pool event touches something the
// subscriber follows: a tracked wallet, a watched pool, or a tracked
// token on either side of the pool.
func (e *Engine) interested(sub *domain.Subscriber, ev *domain.Event, pool *domain.Pool) bool {
	if ev.Wallet != "" && sub.HasWallet(ev.Wallet) {
		return true
	}
	if ev.PoolID != "" && sub.WatchesPool(ev.PoolID) {
		return true
	}
	if pool != nil {
		if sub.TracksToken(pool.Base) || sub.TracksToken(pool.Quote) {
			return true
		}
	}
	return false
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + "…" + mint[len(mint)-4:]
}
