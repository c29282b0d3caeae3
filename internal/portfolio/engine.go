// Package portfolio assembles per-subscriber portfolio snapshots from
// on-chain balances, classified trade history, LP holdings, and staked
// positions, coalescing concurrent sync requests per chat.
package portfolio

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"dlmm-tracker/internal/cache"
	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/rpc"
	"dlmm-tracker/internal/subscribers"
)

const (
	balanceCacheTTL = 30 * time.Second
	stakedCacheTTL  = 10 * time.Minute

	// historyDepth bounds the signature scan per wallet.
	historyDepth = 50

	// maxTokensInSnapshot and maxTradesInSnapshot cap the aggregated lists.
	maxTokensInSnapshot = 20
	maxTradesInSnapshot = 100
)

// ChainClient is the subset of the RPC client the engine reads through.
type ChainClient interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner string) ([]rpc.TokenAccount, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]rpc.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*rpc.Transaction, error)
	GetTokenSupply(ctx context.Context, mint string) (float64, int, error)
	GetTokenAccountBalance(ctx context.Context, account string) (float64, int, error)
}

// PriceSource yields prices, metadata, and display symbols.
type PriceSource interface {
	Price(ctx context.Context, mint string) (float64, bool)
	Meta(mint string) (domain.TokenMeta, bool)
	Symbol(mint string) string
}

// PoolSource is the pool registry surface the engine scans against.
type PoolSource interface {
	ByID(id string) *domain.Pool
	All() []*domain.Pool
}

// AggregatorPnl is net-worth and PnL as reported by the wallet aggregator.
type AggregatorPnl struct {
	RealizedUSD   float64
	UnrealizedUSD float64
	NetWorthUSD   float64
}

// PnlFetcher fetches aggregator-derived PnL for one wallet. A nil result
// with nil error means the aggregator has nothing for the wallet.
type PnlFetcher func(ctx context.Context, wallet string) (*AggregatorPnl, error)

// inflightSync is a compute-or-join slot for one chat id.
type inflightSync struct {
	done chan struct{}
	snap *domain.PortfolioSnapshot
	err  error
}

// Engine builds portfolio snapshots.
type Engine struct {
	cfg    *config.Config
	chain  ChainClient
	prices PriceSource
	pools  PoolSource
	subs   *subscribers.Manager
	vaults []StakeVault
	pnl    PnlFetcher
	logger *log.Logger
	now    func() time.Time

	balances      *cache.Cache[walletBalances]
	staked        *cache.Cache[[]domain.StakedPosition]
	originalStake *cache.Cache[float64]

	mu       sync.Mutex
	inflight map[int64]*inflightSync
}

// Options configures an Engine.
type Options struct {
	Config      *config.Config
	Chain       ChainClient
	Prices      PriceSource
	Pools       PoolSource
	Subscribers *subscribers.Manager
	// Vaults lists the stake vaults scanned for staked positions.
	Vaults []StakeVault
	// Pnl fetches aggregator PnL; optional.
	Pnl    PnlFetcher
	Logger *log.Logger
}

// NewEngine creates a portfolio engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	pnl := opts.Pnl
	if pnl == nil {
		pnl = func(context.Context, string) (*AggregatorPnl, error) { return nil, nil }
	}
	return &Engine{
		cfg:           opts.Config,
		chain:         opts.Chain,
		prices:        opts.Prices,
		pools:         opts.Pools,
		subs:          opts.Subscribers,
		vaults:        opts.Vaults,
		pnl:           pnl,
		logger:        logger,
		now:           time.Now,
		balances:      cache.New[walletBalances](opts.Config.MaxCacheSize, balanceCacheTTL),
		staked:        cache.New[[]domain.StakedPosition](opts.Config.MaxCacheSize, stakedCacheTTL),
		originalStake: cache.New[float64](opts.Config.MaxCacheSize, stakedCacheTTL),
		inflight:      make(map[int64]*inflightSync),
	}
}

// Sync assembles a snapshot for the subscriber and persists it via the
// subscribers manager. Concurrent calls for the same chat id join the
// in-progress computation. Returns nil when the subscriber has no
// portfolio wallets.
func (e *Engine) Sync(ctx context.Context, chatID int64) (*domain.PortfolioSnapshot, error) {
	e.mu.Lock()
	if call, ok := e.inflight[chatID]; ok {
		e.mu.Unlock()
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightSync{done: make(chan struct{})}
	e.inflight[chatID] = call
	e.mu.Unlock()

	call.snap, call.err = e.sync(ctx, chatID)
	close(call.done)

	e.mu.Lock()
	delete(e.inflight, chatID)
	e.mu.Unlock()

	return call.snap, call.err
}

func (e *Engine) sync(ctx context.Context, chatID int64) (*domain.PortfolioSnapshot, error) {
	sub, ok := e.subs.Get(chatID)
	if !ok {
		return nil, fmt.Errorf("portfolio: unknown subscriber %d", chatID)
	}
	wallets := sub.PortfolioWallets
	if len(wallets) == 0 {
		return nil, nil
	}

	started := e.now()

	type walletResult struct {
		wallet string
		data   *walletData
		err    error
	}
	results := make([]walletResult, len(wallets))
	var wg sync.WaitGroup
	for i, wallet := range wallets {
		wg.Add(1)
		go func(i int, wallet string) {
			defer wg.Done()
			data, err := e.fetchWallet(ctx, wallet)
			results[i] = walletResult{wallet: wallet, data: data, err: err}
		}(i, wallet)
	}
	wg.Wait()

	snap := &domain.PortfolioSnapshot{
		PerWallet: make(map[string]domain.WalletBreakdown),
	}
	tokenByMint := make(map[string]*domain.TokenHolding)

	for _, res := range results {
		if res.err != nil {
			e.logger.Printf("[portfolio] wallet %s: %v", res.wallet, res.err)
			continue
		}
		e.mergeWallet(snap, tokenByMint, res.wallet, res.data)
	}

	// Staked positions per wallet, in parallel.
	var stakedMu sync.Mutex
	var swg sync.WaitGroup
	for _, res := range results {
		if res.err != nil {
			continue
		}
		swg.Add(1)
		go func(wallet string, data *walletData) {
			defer swg.Done()
			positions := e.stakedPositions(ctx, wallet, data)
			if len(positions) == 0 {
				return
			}
			var value float64
			for _, p := range positions {
				value += p.ValueUSD
			}
			stakedMu.Lock()
			snap.StakedPositions = append(snap.StakedPositions, positions...)
			snap.StakedValueUSD += value
			bd := snap.PerWallet[wallet]
			bd.StakedValueUSD += value
			snap.PerWallet[wallet] = bd
			stakedMu.Unlock()
		}(res.wallet, res.data)
	}
	swg.Wait()

	e.finalize(snap, tokenByMint, len(wallets))
	snap.LastSync = e.now().UTC()

	e.subs.Update(chatID, func(s *domain.Subscriber) {
		// last_sync never decreases.
		if s.Portfolio == nil || !snap.LastSync.Before(s.Portfolio.LastSync) {
			s.Portfolio = snap.Clone()
		}
	})
	e.logger.Printf("[portfolio] chat %d synced %d wallets in %s, total $%.2f",
		chatID, len(wallets), e.now().Sub(started).Round(time.Millisecond), snap.TotalValueUSD)
	return snap, nil
}

// mergeWallet folds one wallet's fetched data into the snapshot.
func (e *Engine) mergeWallet(snap *domain.PortfolioSnapshot, tokenByMint map[string]*domain.TokenHolding, wallet string, data *walletData) {
	bd := domain.WalletBreakdown{
		SolBalance:  data.balances.solBalance,
		SolValueUSD: data.balances.solValueUSD,
	}

	for _, h := range data.tokens {
		bd.TokenValueUSD += h.ValueUSD
		if existing, ok := tokenByMint[h.Mint]; ok {
			existing.Balance += h.Balance
			existing.ValueUSD += h.ValueUSD
		} else {
			held := h
			tokenByMint[h.Mint] = &held
		}
	}
	for _, lp := range data.lpPositions {
		bd.LpValueUSD += lp.ValueUSD
		snap.LpPositions = append(snap.LpPositions, lp)
	}
	for _, tr := range data.trades {
		snap.Trades = append(snap.Trades, tr)
		snap.TotalVolumeUSD += tr.USD
		if tr.Direction == domain.DirectionBuy {
			bd.BuyCount++
		} else if tr.Direction == domain.DirectionSell {
			bd.SellCount++
		}
	}

	if data.aggregator != nil {
		bd.RealizedPnlUSD = data.aggregator.RealizedUSD
		bd.UnrealizedPnlUSD = data.aggregator.UnrealizedUSD
	} else {
		bd.RealizedPnlUSD = RealizedPnL(data.trades)
	}

	bd.WalletValueUSD = bd.SolValueUSD + bd.TokenValueUSD + bd.LpValueUSD

	snap.SolBalance += bd.SolBalance
	snap.SolValueUSD += bd.SolValueUSD
	snap.TokenValueUSD += bd.TokenValueUSD
	snap.LpValueUSD += bd.LpValueUSD
	snap.RealizedPnlUSD += bd.RealizedPnlUSD
	snap.UnrealizedPnlUSD += bd.UnrealizedPnlUSD
	snap.BuyCount += bd.BuyCount
	snap.SellCount += bd.SellCount
	snap.PerWallet[wallet] = bd
}

// finalize sorts and caps the aggregated lists and computes totals.
func (e *Engine) finalize(snap *domain.PortfolioSnapshot, tokenByMint map[string]*domain.TokenHolding, walletCount int) {
	snap.WalletCount = walletCount

	for _, h := range tokenByMint {
		snap.Tokens = append(snap.Tokens, *h)
	}
	sort.Slice(snap.Tokens, func(i, j int) bool {
		return snap.Tokens[i].ValueUSD > snap.Tokens[j].ValueUSD
	})
	if len(snap.Tokens) > maxTokensInSnapshot {
		snap.Tokens = snap.Tokens[:maxTokensInSnapshot]
	}

	sort.Slice(snap.Trades, func(i, j int) bool {
		return snap.Trades[i].Timestamp.After(snap.Trades[j].Timestamp)
	})
	snap.TradeCount = len(snap.Trades)
	if len(snap.Trades) > maxTradesInSnapshot {
		snap.Trades = snap.Trades[:maxTradesInSnapshot]
	}

	snap.TotalValueUSD = snap.SolValueUSD + snap.TokenValueUSD + snap.LpValueUSD + snap.StakedValueUSD
}
