package feeds

import (
	"context"
	"testing"
	"time"

	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
)

func TestBackupPoller_SkipsWhileFeedFresh(t *testing.T) {
	cfg := feedConfig()
	cfg.TradesPoll = time.Minute

	feed := NewDEXFeed(DEXFeedOptions{Config: cfg, API: &fakeAPI{}, Pools: fakePools{}})
	feed.conn = newFakeConn() // connected

	poller := NewBackupPoller(BackupPollerOptions{
		Config:  cfg,
		API:     &fakeAPI{},
		Pools:   fakePools{{ID: "P1"}},
		Feed:    feed,
		Seen:    func(string, domain.AlertSource) bool { return false },
		Handler: func(decoder.Message) { t.Fatal("poller must not run while the feed is up") },
	})
	if n := poller.Poll(context.Background()); n != 0 {
		t.Fatalf("injected %d, want 0", n)
	}
}

func TestBackupPoller_InjectsUnseenTrades(t *testing.T) {
	cfg := feedConfig()
	cfg.TradesPoll = time.Millisecond

	feed := NewDEXFeed(DEXFeedOptions{Config: cfg, API: &fakeAPI{}, Pools: fakePools{}})
	feed.closedAt = time.Now().Add(-time.Minute)

	now := time.Now().UTC().Truncate(time.Second)
	api := &fakeAPI{trades: map[string][]Trade{
		"P1": {
			{Signature: "seen1", Pool: "P1", Side: "buy"},
			{Signature: "new1", Pool: "P1", Side: "sell", Wallet: "W1", AmountUSD: 42, Timestamp: now},
			{Signature: "", Pool: "P1"},
		},
	}}

	var got []decoder.Message
	poller := NewBackupPoller(BackupPollerOptions{
		Config: cfg,
		API:    api,
		Pools:  fakePools{{ID: "P1"}},
		Feed:   feed,
		Seen: func(sig string, source domain.AlertSource) bool {
			return sig == "seen1" && source == domain.AlertSourceDEX
		},
		Handler: func(msg decoder.Message) { got = append(got, msg) },
	})

	if n := poller.Poll(context.Background()); n != 1 {
		t.Fatalf("injected %d, want 1", n)
	}
	msg := got[0]
	if msg.Str("signature") != "new1" || msg.Str("side") != "sell" {
		t.Fatalf("message = %v", msg)
	}
	if usd, ok := msg.Float("usd_value"); !ok || usd != 42 {
		t.Fatalf("usd_value = %v", msg["usd_value"])
	}
	if ts, ok := msg.Float("timestamp"); !ok || int64(ts) != now.Unix() {
		t.Fatalf("timestamp = %v", msg["timestamp"])
	}
}
