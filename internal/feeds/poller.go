package feeds

import (
	"context"
	"log"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/observability"
)

// backupPoolCount is how many pools the backup poller covers, ranked by
// 24h volume.
const backupPoolCount = 20

// backupTradeLimit is the per-pool trade fetch depth.
const backupTradeLimit = 20

// BackupPoller fills the gap while the DEX feed is down: it polls recent
// trades for the most active pools and injects unseen ones into the same
// ingestion path.
type BackupPoller struct {
	cfg     *config.Config
	api     DEXAPI
	pools   PoolLister
	feed    *DEXFeed
	seen    func(sig string, source domain.AlertSource) bool
	handler Handler
	logger  *log.Logger
}

// BackupPollerOptions configures a BackupPoller.
type BackupPollerOptions struct {
	Config *config.Config
	API    DEXAPI
	Pools  PoolLister
	Feed   *DEXFeed
	// Seen reports whether the signature was already ingested.
	Seen    func(sig string, source domain.AlertSource) bool
	Handler Handler
	Logger  *log.Logger
}

// NewBackupPoller creates the poller.
func NewBackupPoller(opts BackupPollerOptions) *BackupPoller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &BackupPoller{
		cfg:     opts.Config,
		api:     opts.API,
		pools:   opts.Pools,
		feed:    opts.Feed,
		seen:    opts.Seen,
		handler: opts.Handler,
		logger:  logger,
	}
}

// Poll runs one backup cycle. It is a no-op unless the DEX feed has been
// closed for longer than one polling interval.
func (p *BackupPoller) Poll(ctx context.Context) int {
	if p.feed != nil && p.feed.ClosedFor() <= p.cfg.TradesPoll {
		return 0
	}

	injected := 0
	for _, pool := range p.pools.TopByVolume(backupPoolCount) {
		trades, err := p.api.Trades(ctx, pool.ID, backupTradeLimit)
		if err != nil {
			p.logger.Printf("[poller] trades for %s: %v", pool.ID, err)
			continue
		}
		for _, tr := range trades {
			if tr.Signature == "" || p.seen(tr.Signature, domain.AlertSourceDEX) {
				continue
			}
			p.handler(tradeMessage(tr))
			injected++
		}
	}
	if injected > 0 {
		p.logger.Printf("[poller] injected %d trades while feed down", injected)
		observability.DefaultMetrics.BackupPollTrades.Add(float64(injected))
	}
	return injected
}

// tradeMessage shapes a polled trade like a live feed frame so the
// pipeline treats both identically.
func tradeMessage(tr Trade) decoder.Message {
	msg := decoder.Message{
		"type":      "trade",
		"signature": tr.Signature,
		"pool":      tr.Pool,
	}
	if tr.Wallet != "" {
		msg["wallet"] = tr.Wallet
	}
	if tr.Side != "" {
		msg["side"] = tr.Side
	}
	if tr.AmountUSD > 0 {
		msg["usd_value"] = tr.AmountUSD
	}
	if !tr.Timestamp.IsZero() {
		msg["timestamp"] = float64(tr.Timestamp.Unix())
	}
	return msg
}
