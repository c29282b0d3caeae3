package domain

import "time"

// AlertSource distinguishes the two dedup domains of seen transactions.
// A signature may legitimately alert once per source: once as a pool
// trade and once as a wallet movement.
type AlertSource string

const (
	AlertSourceDEX    AlertSource = "dex"
	AlertSourceWallet AlertSource = "wallet"
)

// RecentAlert is one entry of a subscriber's bounded alert ring.
type RecentAlert struct {
	Type      EventType
	PoolID    string
	Signature string
	USD       float64
	SentAt    time.Time
}

// Stats are per-subscriber notification counters.
type Stats struct {
	Alerts       int64
	SwapAlerts   int64
	LpAlerts     int64
	WalletAlerts int64
	VolumeUSD    float64
}

// Subscriber is one chat-bot subscriber with filter preferences and
// tracked relations. Mutations go through the subscribers manager, which
// owns locking and debounced persistence.
type Subscriber struct {
	ChatID int64

	CreatedAt  time.Time
	LastActive time.Time
	Enabled    bool
	Blocked    bool
	Onboarded  bool

	// SnoozedUntil zero means not snoozed.
	SnoozedUntil time.Time
	// QuietStart/QuietEnd are UTC hours 0..23; both nil or both set.
	// The interval may wrap midnight.
	QuietStart *int
	QuietEnd   *int

	// Filter toggles.
	PrimaryBuys       bool
	PrimarySells      bool
	PrimaryLpAdd      bool
	PrimaryLpRemove   bool
	TrackOtherPools   bool
	OtherBuys         bool
	OtherSells        bool
	OtherLpAdd        bool
	OtherLpRemove     bool
	WalletAlerts      bool
	DailyDigest       bool
	NewPoolAlerts     bool
	LockAlerts        bool
	RewardAlerts      bool
	ClosePoolAlerts   bool
	ProtocolFeeAlerts bool
	AdminAlerts       bool

	// USD thresholds.
	PrimaryTradeMin float64
	OtherTradeMin   float64
	OtherLpMin      float64

	// Relations. No wallet appears twice across WalletSubscriptions,
	// PortfolioWallets, or TrackedTokens.
	WalletSubscriptions []string
	Watchlist           []string
	TrackedTokens       []string
	PortfolioWallets    []string // ordered, first is primary for display

	RecentAlerts []RecentAlert
	Portfolio    *PortfolioSnapshot

	DailyStats    Stats
	LifetimeStats Stats
}

// NewSubscriber returns a subscriber with default preferences enabled for
// primary-pool activity.
func NewSubscriber(chatID int64, now time.Time) *Subscriber {
	return &Subscriber{
		ChatID:          chatID,
		CreatedAt:       now,
		LastActive:      now,
		Enabled:         true,
		PrimaryBuys:     true,
		PrimarySells:    true,
		PrimaryLpAdd:    true,
		PrimaryLpRemove: true,
		WalletAlerts:    true,
		NewPoolAlerts:   true,
	}
}

// IsSnoozed reports whether the subscriber should be skipped at the given
// instant, either from an explicit snooze or from quiet hours. Quiet hours
// with start > end wrap midnight: [start..24) ∪ [0..end).
func (s *Subscriber) IsSnoozed(now time.Time) bool {
	if !s.SnoozedUntil.IsZero() && now.Before(s.SnoozedUntil) {
		return true
	}
	if s.QuietStart == nil || s.QuietEnd == nil {
		return false
	}
	hour := now.UTC().Hour()
	start, end := *s.QuietStart, *s.QuietEnd
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// HasWallet reports whether the wallet is in WalletSubscriptions.
func (s *Subscriber) HasWallet(wallet string) bool {
	return contains(s.WalletSubscriptions, wallet)
}

// WatchesPool reports whether the pool is on the watchlist.
func (s *Subscriber) WatchesPool(poolID string) bool {
	return contains(s.Watchlist, poolID)
}

// TracksToken reports whether the mint is tracked.
func (s *Subscriber) TracksToken(mint string) bool {
	return contains(s.TrackedTokens, mint)
}

// Clone returns a deep copy safe to hand outside the owning lock.
func (s *Subscriber) Clone() *Subscriber {
	c := *s
	c.WalletSubscriptions = append([]string(nil), s.WalletSubscriptions...)
	c.Watchlist = append([]string(nil), s.Watchlist...)
	c.TrackedTokens = append([]string(nil), s.TrackedTokens...)
	c.PortfolioWallets = append([]string(nil), s.PortfolioWallets...)
	c.RecentAlerts = append([]RecentAlert(nil), s.RecentAlerts...)
	if s.Portfolio != nil {
		p := s.Portfolio.Clone()
		c.Portfolio = p
	}
	return &c
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
