package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/notify"
	"dlmm-tracker/internal/storage"
	"dlmm-tracker/internal/storage/memory"
)

func okSink() notify.Sink {
	return notify.Func(func(context.Context, int64, notify.Message) notify.SendResult {
		return notify.SendResult{Status: notify.SentOk}
	})
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pools":
			w.Write([]byte(`[
				{"address":"P1","baseMint":"BASE","quoteMint":"USDC","baseSymbol":"PRIM","quoteSymbol":"USDC","volume24h":900,"tvl":5000},
				{"address":"P2","baseMint":"BASE","quoteMint":"WSOL","baseSymbol":"PRIM","quoteSymbol":"SOL","volume24h":100}
			]`))
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testCore(t *testing.T) (*Core, Stores) {
	t.Helper()
	server := testServer(t)

	cfg := config.Default()
	cfg.PrimaryTokenMint = "BASE"
	cfg.DEXAPIURL = server.URL

	stores := Stores{
		Subscribers: memory.NewSubscriberStore(),
		SeenTxs:     memory.NewSeenTxStore(),
		History:     memory.NewVolumeHistoryStore(),
	}
	c, err := New(Options{Config: cfg, Stores: stores, Sink: okSink()})
	require.NoError(t, err)
	return c, stores
}

func TestNew_RequiresConfigSinkAndStores(t *testing.T) {
	stores := Stores{
		Subscribers: memory.NewSubscriberStore(),
		SeenTxs:     memory.NewSeenTxStore(),
	}

	_, err := New(Options{Stores: stores, Sink: okSink()})
	require.Error(t, err)

	_, err = New(Options{Config: config.Default(), Stores: stores})
	require.Error(t, err)

	_, err = New(Options{Config: config.Default(), Sink: okSink()})
	require.Error(t, err)
}

func TestWarmStart_LoadsPersistedState(t *testing.T) {
	c, stores := testCore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sub := domain.NewSubscriber(7, now)
	require.NoError(t, stores.Subscribers.Upsert(ctx, sub))
	require.NoError(t, stores.SeenTxs.Insert(ctx, storage.SeenTx{
		Signature: "sig1", Source: domain.AlertSourceDEX, AddedAt: now,
	}))

	c.runCtx = ctx
	require.NoError(t, c.warmStart(ctx))

	require.Equal(t, 1, c.subs.Count())
	require.True(t, c.seen.Contains("sig1", domain.AlertSourceDEX))
	require.False(t, c.seen.Contains("sig1", domain.AlertSourceWallet))
	require.Equal(t, 2, c.pools.Len(), "initial pool snapshot taken")
}

func TestCaptureVolumes_ArchivesSnapshot(t *testing.T) {
	c, stores := testCore(t)
	ctx := context.Background()

	require.NoError(t, c.pools.Refresh(ctx))
	require.NoError(t, c.captureVolumes(ctx))

	points, err := stores.History.GetByPool(ctx, "P1", 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, 900.0, points[0].Volume24hUSD)
	require.Equal(t, 5000.0, points[0].TVLUSD)
}

func TestCheckHealth_ProbesUpstreams(t *testing.T) {
	c, _ := testCore(t)
	// No assertions on gauge values; the probe must simply not panic
	// with feeds closed and an empty resolver.
	c.checkHealth(context.Background())
}

func TestStatus_ReflectsRuntimeState(t *testing.T) {
	c, _ := testCore(t)
	ctx := context.Background()
	c.started = time.Now().UTC().Add(-time.Minute)

	require.NoError(t, c.pools.Refresh(ctx))
	c.subs.Update(1, func(s *domain.Subscriber) {
		s.WalletSubscriptions = []string{"W1"}
	})

	st := c.Status()
	require.Equal(t, 1, st.Subscribers)
	require.Equal(t, 2, st.Pools)
	require.Equal(t, 1, st.TrackedWallets)
	require.False(t, st.DEXFeedConnected)
	require.NotEmpty(t, st.Uptime)
	require.False(t, st.LastPoolRefresh.IsZero())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	c, _ := testCore(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Give warm start a moment, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
