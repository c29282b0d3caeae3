package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/notify"
	"dlmm-tracker/internal/storage/memory"
	"dlmm-tracker/internal/subscribers"
)

const (
	primaryPool = "POOL_PRIMARY"
	otherPool   = "POOL_OTHER"
	baseMint    = "BASE_MINT"
	quoteMint   = "QUOTE_MINT"
)

type staticPools map[string]*domain.Pool

func (p staticPools) ByID(id string) *domain.Pool { return p[id] }

type recordingSink struct {
	mu      sync.Mutex
	sent    []int64
	results map[int64][]notify.SendResult
	last    notify.Message
}

func newRecordingSink() *recordingSink {
	return &recordingSink{results: make(map[int64][]notify.SendResult)}
}

func (s *recordingSink) Send(_ context.Context, chatID int64, msg notify.Message) notify.SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = msg
	if queue := s.results[chatID]; len(queue) > 0 {
		res := queue[0]
		s.results[chatID] = queue[1:]
		return res
	}
	s.sent = append(s.sent, chatID)
	return notify.SendResult{Status: notify.SentOk}
}

func testEngine(t *testing.T, pools staticPools) (*Engine, *subscribers.Manager, *recordingSink) {
	t.Helper()
	mgr := subscribers.NewManager(memory.NewSubscriberStore(), time.Second, nil)
	sink := newRecordingSink()
	eng := NewEngine(Options{
		Config:      config.Default(),
		Subscribers: mgr,
		Sink:        sink,
		Pools:       pools,
	})
	eng.sleep = func(time.Duration) {}
	return eng, mgr, sink
}

func defaultPools() staticPools {
	return staticPools{
		primaryPool: {ID: primaryPool, Base: baseMint, Quote: quoteMint, IsPrimary: true, PairName: "PRIM/SOL"},
		otherPool:   {ID: otherPool, Base: baseMint, Quote: quoteMint},
	}
}

func swapEvent(poolID string, dir domain.Direction, usd float64) *domain.Event {
	return &domain.Event{
		Type:      domain.EventSwap,
		Direction: dir,
		PoolID:    poolID,
		Signature: "sig1",
		USD:       usd,
	}
}

func TestDispatch_PrimarySwapAboveThreshold(t *testing.T) {
	eng, mgr, sink := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) { s.PrimaryTradeMin = 100 })

	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 250)); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
	if len(sink.sent) != 1 || sink.sent[0] != 1 {
		t.Fatalf("sink.sent = %v", sink.sent)
	}
}

func TestDispatch_BelowThresholdSkipped(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) { s.PrimaryTradeMin = 100 })

	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 99)); got != 0 {
		t.Fatalf("sent = %d, want 0", got)
	}
}

func TestDispatch_SideToggles(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) { s.PrimaryBuys = false })

	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 50)); got != 0 {
		t.Fatalf("buys disabled, sent = %d", got)
	}
	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionSell, 50)); got != 1 {
		t.Fatalf("sells enabled, sent = %d", got)
	}
}

func TestDispatch_DisabledBlockedSnoozedExcluded(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) { s.Enabled = false })
	mgr.Update(2, func(s *domain.Subscriber) { s.Blocked = true })
	mgr.Update(3, func(s *domain.Subscriber) {
		s.SnoozedUntil = time.Now().UTC().Add(time.Hour)
	})

	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 50)); got != 0 {
		t.Fatalf("sent = %d, want 0", got)
	}
}

func TestDispatch_QuietHoursExcluded(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	// Pick an interval that always contains the current hour.
	h := time.Now().UTC().Hour()
	start, end := h, (h+1)%24
	mgr.Update(1, func(s *domain.Subscriber) {
		s.QuietStart, s.QuietEnd = &start, &end
	})

	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 50)); got != 0 {
		t.Fatalf("sent = %d, want 0 inside quiet hours", got)
	}
}

func TestDispatch_OtherPoolNeedsInterest(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) {
		s.TrackOtherPools = true
		s.OtherBuys = true
	})

	// No tracked wallet, watchlist entry, or tracked token: skipped.
	if got := eng.Dispatch(context.Background(), swapEvent(otherPool, domain.DirectionBuy, 50)); got != 0 {
		t.Fatalf("uninterested subscriber got the alert")
	}

	mgr.Update(1, func(s *domain.Subscriber) { s.Watchlist = []string{otherPool} })
	if got := eng.Dispatch(context.Background(), swapEvent(otherPool, domain.DirectionBuy, 50)); got != 1 {
		t.Fatalf("watchlisted pool not delivered")
	}
}

func TestDispatch_OtherPoolTrackedToken(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) {
		s.TrackOtherPools = true
		s.OtherSells = true
		s.TrackedTokens = []string{quoteMint}
	})

	if got := eng.Dispatch(context.Background(), swapEvent(otherPool, domain.DirectionSell, 50)); got != 1 {
		t.Fatalf("tracked-token pool not delivered")
	}
}

func TestDispatch_WalletAlertRequiresSubscription(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) {
		s.WalletSubscriptions = []string{"W1"}
	})
	mgr.Update(2, func(s *domain.Subscriber) {})

	ev := &domain.Event{Type: domain.EventWalletTx, Wallet: "W1", Signature: "s", USD: 10}
	if got := eng.Dispatch(context.Background(), ev); got != 1 {
		t.Fatalf("sent = %d, want only the subscribed chat", got)
	}
}

func TestDispatch_ToggleOnlyEvents(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) { s.LockAlerts = true })

	ev := &domain.Event{Type: domain.EventLockLiquidity, PoolID: otherPool}
	if got := eng.Dispatch(context.Background(), ev); got != 1 {
		t.Fatalf("lock alert not delivered")
	}

	ev2 := &domain.Event{Type: domain.EventClosePool, PoolID: otherPool}
	if got := eng.Dispatch(context.Background(), ev2); got != 0 {
		t.Fatalf("close-pool toggle off but delivered")
	}
}

func TestDeliver_RateLimitedRetries(t *testing.T) {
	eng, mgr, sink := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) {})

	var waits []time.Duration
	eng.sleep = func(d time.Duration) { waits = append(waits, d) }
	sink.results[1] = []notify.SendResult{
		{Status: notify.RateLimited, RetryAfter: 3 * time.Second},
	}

	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 50)); got != 1 {
		t.Fatalf("sent = %d, want 1 after retry", got)
	}
	if len(waits) != 1 || waits[0] != 3*time.Second {
		t.Fatalf("waits = %v, want the advertised retry-after", waits)
	}
}

func TestDeliver_BlockedUserDisabled(t *testing.T) {
	eng, mgr, sink := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) {})
	sink.results[1] = []notify.SendResult{{Status: notify.BlockedUser}}

	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 50)); got != 0 {
		t.Fatalf("sent = %d, want 0", got)
	}
	sub, _ := mgr.Get(1)
	if sub.Enabled || !sub.Blocked {
		t.Fatalf("enabled=%v blocked=%v, want disabled and blocked", sub.Enabled, sub.Blocked)
	}

	// The blocked subscriber is out of every later recipient set.
	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 50)); got != 0 {
		t.Fatal("blocked subscriber received a later alert")
	}
}

func TestRecordSent_RingAndStats(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())
	eng.cfg.MaxRecentAlerts = 3
	mgr.Update(1, func(s *domain.Subscriber) {})

	for i := 0; i < 5; i++ {
		ev := swapEvent(primaryPool, domain.DirectionBuy, 10)
		ev.Signature = fmt.Sprintf("sig%d", i)
		eng.Dispatch(context.Background(), ev)
	}

	sub, _ := mgr.Get(1)
	if len(sub.RecentAlerts) != 3 {
		t.Fatalf("ring length = %d, want 3", len(sub.RecentAlerts))
	}
	if sub.RecentAlerts[0].Signature != "sig2" || sub.RecentAlerts[2].Signature != "sig4" {
		t.Fatalf("ring kept wrong entries: %+v", sub.RecentAlerts)
	}
	if sub.DailyStats.Alerts != 5 || sub.DailyStats.SwapAlerts != 5 {
		t.Fatalf("daily stats = %+v", sub.DailyStats)
	}
	if sub.LifetimeStats.VolumeUSD != 50 {
		t.Fatalf("lifetime volume = %v, want 50", sub.LifetimeStats.VolumeUSD)
	}
}

func TestDispatch_PacesLargeRecipientSets(t *testing.T) {
	eng, mgr, _ := testEngine(t, defaultPools())

	for i := int64(1); i <= 1000; i++ {
		mgr.Update(i, func(s *domain.Subscriber) {})
	}

	pauses := 0
	eng.sleep = func(time.Duration) { pauses++ }

	if got := eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 50)); got != 1000 {
		t.Fatalf("sent = %d, want 1000", got)
	}
	if pauses < 49 {
		t.Fatalf("pauses = %d, want at least 49 for 1000 recipients", pauses)
	}
}

func TestRender_EscapesAndHints(t *testing.T) {
	eng, mgr, sink := testEngine(t, defaultPools())
	mgr.Update(1, func(s *domain.Subscriber) {})

	eng.Dispatch(context.Background(), swapEvent(primaryPool, domain.DirectionBuy, 1234.5))
	if sink.last.Text == "" {
		t.Fatal("rendered message is empty")
	}
	if want := "$1,234"; !strings.Contains(sink.last.Text, want) {
		t.Fatalf("message %q lacks %q", sink.last.Text, want)
	}
	if len(sink.last.Hints) == 0 || sink.last.Hints[0] != notify.HintViewTx {
		t.Fatalf("hints = %v, want view-tx first", sink.last.Hints)
	}
}
