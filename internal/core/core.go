// Package core assembles the tracker: stores, upstream clients, feeds,
// fan-out, portfolio engine, command API, and the scheduled jobs that
// keep everything fresh.
package core

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"dlmm-tracker/internal/commands"
	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/dexapi"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/fanout"
	"dlmm-tracker/internal/feeds"
	"dlmm-tracker/internal/ingest"
	"dlmm-tracker/internal/notify"
	"dlmm-tracker/internal/observability"
	"dlmm-tracker/internal/pools"
	"dlmm-tracker/internal/portfolio"
	"dlmm-tracker/internal/prices"
	"dlmm-tracker/internal/ratelimit"
	"dlmm-tracker/internal/rpc"
	"dlmm-tracker/internal/scheduler"
	"dlmm-tracker/internal/seen"
	"dlmm-tracker/internal/storage"
	"dlmm-tracker/internal/subscribers"
	"dlmm-tracker/internal/valuation"
)

const (
	healthInterval     = time.Minute
	cachePruneInterval = 15 * time.Minute
	// autoSyncActiveWindow bounds auto-sync to recently active
	// subscribers.
	autoSyncActiveWindow = 30 * time.Minute
	// seenPruneHour is the UTC hour of the daily seen-tx retention pass.
	seenPruneHour = 3
	// dexAPIRate is the per-second ceiling for the protocol API.
	dexAPIRate = 10
)

// Stores groups the persistence backends the core runs on. History may
// be nil; liquidity history then degrades to the live registry snapshot.
type Stores struct {
	Subscribers storage.SubscriberStore
	SeenTxs     storage.SeenTxStore
	History     storage.VolumeHistoryStore
}

// Options configures a Core.
type Options struct {
	Config *config.Config
	Stores Stores
	// Sink delivers rendered alerts.
	Sink notify.Sink
	// Vaults lists stake vaults scanned by the portfolio engine.
	// Optional.
	Vaults []portfolio.StakeVault
	Logger *log.Logger
}

// Core owns every component and the process lifecycle.
type Core struct {
	cfg    *config.Config
	stores Stores
	logger *log.Logger

	dex   *dexapi.Client
	chain *rpc.Client

	subs      *subscribers.Manager
	pools     *pools.Registry
	prices    *prices.Resolver
	seen      *seen.Tracker
	fanout    *fanout.Engine
	portfolio *portfolio.Engine
	pipeline  *ingest.Pipeline

	dexFeed    *feeds.DEXFeed
	walletFeed *feeds.WalletFeed
	poller     *feeds.BackupPoller

	api   *commands.API
	sched *scheduler.Scheduler

	// runCtx is set by Run before any feed goroutine starts; feed
	// handlers close over it.
	runCtx  context.Context
	started time.Time
}

// dexFeedAPI adapts the concrete protocol client to the feed's narrow
// surface, converting trade records at the boundary.
type dexFeedAPI struct {
	client *dexapi.Client
}

func (a dexFeedAPI) WSTicket(ctx context.Context) (string, error) {
	return a.client.WSTicket(ctx)
}

func (a dexFeedAPI) Trades(ctx context.Context, pool string, limit int) ([]feeds.Trade, error) {
	raw, err := a.client.Trades(ctx, pool, limit)
	if err != nil {
		return nil, err
	}
	out := make([]feeds.Trade, len(raw))
	for i, tr := range raw {
		out[i] = feeds.Trade{
			Signature: tr.Signature,
			Pool:      tr.Pool,
			Wallet:    tr.Wallet,
			Side:      tr.Side,
			AmountUSD: tr.AmountUSD,
			Timestamp: tr.Timestamp,
		}
	}
	return out, nil
}

// New wires all components. Nothing connects until Run.
func New(opts Options) (*Core, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("core: config is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("core: sink is required")
	}
	if opts.Stores.Subscribers == nil || opts.Stores.SeenTxs == nil {
		return nil, fmt.Errorf("core: subscriber and seen-tx stores are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Core{
		cfg:    cfg,
		stores: opts.Stores,
		logger: logger,
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	limits := ratelimit.NewRegistry()

	c.dex = dexapi.NewClient(cfg.DEXAPIURL, dexapi.Options{
		HTTPClient: httpClient,
		Limiter:    ratelimit.NewLimiter(dexAPIRate, time.Second),
	})
	c.chain = rpc.NewClient(cfg.RPCEndpoint, rpc.WithHTTPClient(httpClient))

	c.prices = prices.NewResolver(prices.Options{
		Config: cfg,
		DEX:    c.dex,
		Client: httpClient,
		Limits: limits,
		Logger: log.New(logger.Writer(), "[prices] ", logger.Flags()),
	})
	c.pools = pools.NewRegistry(pools.Options{
		API:         c.dex,
		ProgramID:   cfg.DEXProgramID,
		PrimaryMint: cfg.PrimaryTokenMint,
		Symbol:      c.prices.Symbol,
		Logger:      log.New(logger.Writer(), "[pools] ", logger.Flags()),
	})

	c.subs = subscribers.NewManager(opts.Stores.Subscribers, cfg.SaveDebounce,
		log.New(logger.Writer(), "[subscribers] ", logger.Flags()))
	c.seen = seen.NewTracker(cfg.MaxCacheSize, opts.Stores.SeenTxs,
		log.New(logger.Writer(), "[seen] ", logger.Flags()))

	c.fanout = fanout.NewEngine(fanout.Options{
		Config:      cfg,
		Subscribers: c.subs,
		Sink:        opts.Sink,
		Pools:       c.pools,
		Symbol:      c.prices.Symbol,
		Logger:      log.New(logger.Writer(), "[fanout] ", logger.Flags()),
	})
	c.portfolio = portfolio.NewEngine(portfolio.Options{
		Config:      cfg,
		Chain:       c.chain,
		Prices:      c.prices,
		Pools:       c.pools,
		Subscribers: c.subs,
		Vaults:      opts.Vaults,
		Pnl:         portfolio.AggregatorPnlFetcher(cfg, httpClient, limits),
		Logger:      log.New(logger.Writer(), "[portfolio] ", logger.Flags()),
	})

	dec := decoder.New(cfg.PrimaryTokenMint, c.pools.ByID)
	valuer := valuation.NewValuer(cfg, c.prices, c.pools)
	c.pipeline = ingest.New(ingest.Options{
		Decoder:    dec,
		Seen:       c.seen,
		Valuer:     valuer,
		Dispatcher: c.fanout,
		Chain:      c.chain,
		DEX:        c.pools,
		Logger:     log.New(logger.Writer(), "[ingest] ", logger.Flags()),
	})

	feedAPI := dexFeedAPI{client: c.dex}
	c.dexFeed = feeds.NewDEXFeed(feeds.DEXFeedOptions{
		Config: cfg,
		API:    feedAPI,
		Pools:  c.pools,
		Handler: func(msg decoder.Message) {
			c.pipeline.HandleDEX(c.runCtx, msg)
		},
		Logger: log.New(logger.Writer(), "[dexfeed] ", logger.Flags()),
	})
	c.walletFeed = feeds.NewWalletFeed(feeds.WalletFeedOptions{
		Config:  cfg,
		Wallets: c.subs.AllWallets,
		Handler: func(wallet, signature string, _ []string) {
			c.pipeline.HandleWallet(c.runCtx, wallet, signature)
		},
		Logger: log.New(logger.Writer(), "[walletfeed] ", logger.Flags()),
	})
	c.poller = feeds.NewBackupPoller(feeds.BackupPollerOptions{
		Config: cfg,
		API:    feedAPI,
		Pools:  c.pools,
		Feed:   c.dexFeed,
		Seen:   c.seen.Contains,
		Handler: func(msg decoder.Message) {
			c.pipeline.HandleDEX(c.runCtx, msg)
		},
		Logger: log.New(logger.Writer(), "[poller] ", logger.Flags()),
	})

	c.api = commands.New(commands.Options{
		Config:    cfg,
		Subs:      c.subs,
		Pools:     c.pools,
		DEX:       c.dex,
		Portfolio: c.portfolio,
		History:   opts.Stores.History,
		Logger:    log.New(logger.Writer(), "[commands] ", logger.Flags()),
	})
	c.sched = scheduler.New(log.New(logger.Writer(), "[scheduler] ", logger.Flags()))

	return c, nil
}

// Commands exposes the front-end boundary.
func (c *Core) Commands() *commands.API { return c.api }

// Run warm-starts state, opens the feeds, schedules the periodic jobs,
// and blocks until ctx is cancelled. Shutdown flushes pending
// subscriber writes.
func (c *Core) Run(ctx context.Context) error {
	c.runCtx = ctx
	c.started = time.Now().UTC()

	if err := c.warmStart(ctx); err != nil {
		return err
	}

	go c.subs.Run(ctx)
	go c.dexFeed.Run(ctx)
	go c.walletFeed.Run(ctx)

	c.scheduleJobs()

	<-ctx.Done()
	c.shutdown()
	return ctx.Err()
}

// warmStart loads persisted state and takes the initial pool and price
// snapshots before any feed opens. Subscriber load is fatal; the rest
// degrades to empty caches.
func (c *Core) warmStart(ctx context.Context) error {
	if err := c.subs.Load(ctx); err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	c.logger.Printf("[core] loaded %d subscribers", c.subs.Count())

	if err := c.seen.WarmStart(ctx); err != nil {
		c.logger.Printf("[core] seen-tx warm start: %v", err)
	}
	if err := c.pools.Refresh(ctx); err != nil {
		c.logger.Printf("[core] initial pool refresh: %v", err)
	} else {
		observability.DefaultMetrics.LastPoolRefresh.SetToCurrentTime()
	}
	c.refreshPrices(ctx)
	return nil
}

func (c *Core) scheduleJobs() {
	c.sched.Every("pool-refresh", c.cfg.PoolRefresh, func(ctx context.Context) {
		err := c.pools.Refresh(ctx)
		observability.RecordSchedulerRun("pool-refresh", statusOf(err))
		if err != nil {
			c.logger.Printf("[core] pool refresh: %v", err)
			return
		}
		observability.DefaultMetrics.LastPoolRefresh.SetToCurrentTime()
		// New pools need live subscriptions.
		c.dexFeed.Resubscribe()
	})

	c.sched.Every("price-refresh", c.cfg.PriceRefresh, func(ctx context.Context) {
		c.refreshPrices(ctx)
		observability.RecordSchedulerRun("price-refresh", "success")
	})

	if c.stores.History != nil {
		c.sched.Every("volume-capture", c.cfg.PoolRefresh, func(ctx context.Context) {
			err := c.captureVolumes(ctx)
			observability.RecordSchedulerRun("volume-capture", statusOf(err))
			if err != nil {
				c.logger.Printf("[core] volume capture: %v", err)
			}
		})
	}

	c.sched.Every("provider-health", healthInterval, func(ctx context.Context) {
		c.checkHealth(ctx)
		observability.DefaultMetrics.UptimeSeconds.Add(healthInterval.Seconds())
	})

	c.sched.Every("backup-poll", c.cfg.TradesPoll, func(ctx context.Context) {
		if n := c.poller.Poll(ctx); n > 0 {
			c.logger.Printf("[core] backup poll recovered %d trades", n)
		}
	})

	c.sched.Every("wallet-refresh", c.cfg.TradesPoll, func(ctx context.Context) {
		c.walletFeed.Refresh()
		observability.DefaultMetrics.WalletSubsActive.Set(float64(len(c.subs.AllWallets())))
		observability.DefaultMetrics.SubscriberCount.Set(float64(c.subs.Count()))
	})

	c.sched.Every("cache-prune", cachePruneInterval, func(ctx context.Context) {
		removed := c.prices.Prune()
		if removed > 0 {
			c.logger.Printf("[core] pruned %d stale price entries", removed)
		}
		dex, wallet := c.seen.Sizes()
		observability.UpdateCacheSize("seen_dex", dex)
		observability.UpdateCacheSize("seen_wallet", wallet)
	})

	c.sched.Every("portfolio-auto-sync", c.cfg.PortfolioAutoSync, func(ctx context.Context) {
		for _, chatID := range c.subs.DueForAutoSync(autoSyncActiveWindow, c.cfg.PortfolioAutoSync) {
			start := time.Now()
			_, err := c.portfolio.Sync(ctx, chatID)
			observability.RecordPortfolioSync("auto", statusOf(err), time.Since(start).Seconds())
			if err != nil {
				c.logger.Printf("[core] auto-sync chat %d: %v", chatID, err)
			}
		}
	})

	c.sched.Daily("daily-digest", c.cfg.DailyDigestHour, c.cfg.DailyDigestMinute, func(ctx context.Context) {
		sent := c.fanout.Digest(ctx)
		c.subs.ResetDailyStats()
		c.logger.Printf("[core] daily digest sent to %d subscribers", sent)
		observability.RecordSchedulerRun("daily-digest", "success")
	})

	c.sched.Daily("seen-prune", seenPruneHour, 0, func(ctx context.Context) {
		removed, err := c.seen.Prune(ctx)
		observability.RecordSchedulerRun("seen-prune", statusOf(err))
		if err != nil {
			c.logger.Printf("[core] seen prune: %v", err)
			return
		}
		c.logger.Printf("[core] pruned %d seen txs", removed)
	})
}

// refreshPrices warms quotes for the primary token and every mint in
// the current pool snapshot.
func (c *Core) refreshPrices(ctx context.Context) {
	set := map[string]bool{}
	if c.cfg.PrimaryTokenMint != "" {
		set[c.cfg.PrimaryTokenMint] = true
	}
	for _, pool := range c.pools.All() {
		set[pool.Base] = true
		set[pool.Quote] = true
	}
	mints := make([]string, 0, len(set))
	for mint := range set {
		mints = append(mints, mint)
	}
	c.prices.RefreshAll(ctx, mints)
	observability.DefaultMetrics.LastPriceRefresh.SetToCurrentTime()
}

// captureVolumes archives the current per-pool 24h volume snapshot.
func (c *Core) captureVolumes(ctx context.Context) error {
	points := c.pools.VolumePoints(time.Now().UTC())
	if len(points) == 0 {
		return nil
	}
	batch := make([]*domain.PoolVolumePoint, len(points))
	for i := range points {
		batch[i] = &points[i]
	}
	return c.stores.History.InsertBulk(ctx, batch)
}

// checkHealth probes the protocol API and republishes per-provider
// health gauges from the resolver's rolling state.
func (c *Core) checkHealth(ctx context.Context) {
	err := c.dex.Health(ctx)
	observability.SetProviderHealthy("dexapi", err == nil)
	if err != nil {
		c.logger.Printf("[core] dex api health: %v", err)
	}
	for provider, health := range c.prices.Health() {
		observability.SetProviderHealthy(provider, health.Status == domain.HealthOK)
	}
	observability.SetFeedConnected("dex", c.dexFeed.Connected())
	observability.SetFeedConnected("wallet", c.walletFeed.Connected())
}

func (c *Core) shutdown() {
	c.logger.Println("[core] shutting down")
	c.sched.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.subs.Flush(flushCtx)
	c.logger.Println("[core] shutdown complete")
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Status is the point-in-time view served by the /status endpoint.
type Status struct {
	Uptime            string    `json:"uptime"`
	Subscribers       int       `json:"subscribers"`
	Pools             int       `json:"pools"`
	TrackedWallets    int       `json:"tracked_wallets"`
	DEXFeedConnected  bool      `json:"dex_feed_connected"`
	WalletFeedOpen    bool      `json:"wallet_feed_connected"`
	LastPoolRefresh   time.Time `json:"last_pool_refresh"`
	SeenDEXSignatures int       `json:"seen_dex_signatures"`
	SeenWalletTxs     int       `json:"seen_wallet_txs"`
}

// Status assembles the current runtime view.
func (c *Core) Status() Status {
	dex, wallet := c.seen.Sizes()
	return Status{
		Uptime:            time.Since(c.started).Truncate(time.Second).String(),
		Subscribers:       c.subs.Count(),
		Pools:             c.pools.Len(),
		TrackedWallets:    len(c.subs.AllWallets()),
		DEXFeedConnected:  c.dexFeed.Connected(),
		WalletFeedOpen:    c.walletFeed.Connected(),
		LastPoolRefresh:   c.pools.UpdatedAt(),
		SeenDEXSignatures: dex,
		SeenWalletTxs:     wallet,
	}
}
