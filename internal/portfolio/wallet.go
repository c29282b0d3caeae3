package portfolio

import (
	"context"
	"strings"
	"sync"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/rpc"
)

const lamportsPerSol = 1e9

// lpValueSanityCapUSD discards heuristic LP matches with absurd values.
const lpValueSanityCapUSD = 10_000_000

// walletBalances is the cached balance sub-fetch for one wallet.
type walletBalances struct {
	solBalance  float64
	solValueUSD float64
	accounts    []rpc.TokenAccount
}

// walletData is everything fetched for one wallet during a sync.
type walletData struct {
	balances    walletBalances
	tokens      []domain.TokenHolding
	lpPositions []domain.LpPosition
	trades      []domain.TradeRecord
	history     []*rpc.Transaction
	aggregator  *AggregatorPnl
}

// fetchWallet runs the per-wallet sub-fetches in parallel: balances,
// transaction history, and aggregator PnL. Trades and LP positions are
// derived from those.
func (e *Engine) fetchWallet(ctx context.Context, wallet string) (*walletData, error) {
	data := &walletData{}

	var wg sync.WaitGroup
	var balErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		data.balances, balErr = e.fetchBalances(ctx, wallet)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		history, err := e.fetchHistory(ctx, wallet)
		if err != nil {
			e.logger.Printf("[portfolio] history for %s: %v", shortWallet(wallet), err)
			return
		}
		data.history = history
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pnl, err := e.pnl(ctx, wallet)
		if err != nil {
			e.logger.Printf("[portfolio] aggregator pnl for %s: %v", shortWallet(wallet), err)
			return
		}
		data.aggregator = pnl
	}()

	wg.Wait()
	if balErr != nil {
		return nil, balErr
	}

	data.tokens, data.lpPositions = e.classifyHoldings(ctx, data.balances.accounts)
	data.trades = e.classifyTrades(ctx, wallet, data.history)
	return data, nil
}

// fetchBalances reads native and token balances, cached for 30 s.
func (e *Engine) fetchBalances(ctx context.Context, wallet string) (walletBalances, error) {
	if cached, ok := e.balances.Get(wallet); ok {
		return cached, nil
	}

	lamports, err := e.chain.GetBalance(ctx, wallet)
	if err != nil {
		return walletBalances{}, err
	}
	accounts, err := e.chain.GetTokenAccountsByOwner(ctx, wallet)
	if err != nil {
		return walletBalances{}, err
	}

	bal := walletBalances{
		solBalance: float64(lamports) / lamportsPerSol,
		accounts:   accounts,
	}
	if price, ok := e.prices.Price(ctx, config.WSOLMint); ok {
		bal.solValueUSD = bal.solBalance * price
	}
	e.balances.Set(wallet, bal)
	return bal, nil
}

// fetchHistory pulls the most recent confirmed transactions for a wallet.
// Failed transactions are skipped.
func (e *Engine) fetchHistory(ctx context.Context, wallet string) ([]*rpc.Transaction, error) {
	sigs, err := e.chain.GetSignaturesForAddress(ctx, wallet, historyDepth)
	if err != nil {
		return nil, err
	}
	var txs []*rpc.Transaction
	for _, info := range sigs {
		if info.Failed {
			continue
		}
		tx, err := e.chain.GetTransaction(ctx, info.Signature)
		if err != nil || tx == nil || tx.Failed {
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// classifyHoldings splits token accounts into fungible holdings and LP
// positions. A mint matching a pool's LP mint is authoritative; otherwise
// an LP-looking symbol is accepted with a value sanity filter.
func (e *Engine) classifyHoldings(ctx context.Context, accounts []rpc.TokenAccount) ([]domain.TokenHolding, []domain.LpPosition) {
	lpMints := make(map[string]*domain.Pool)
	if e.pools != nil {
		for _, pool := range e.pools.All() {
			if pool.LPMint != "" {
				lpMints[pool.LPMint] = pool
			}
		}
	}

	var tokens []domain.TokenHolding
	var lps []domain.LpPosition
	for _, acc := range accounts {
		if acc.UIAmount <= 0 {
			continue
		}

		if pool, ok := lpMints[acc.Mint]; ok {
			lps = append(lps, e.lpPosition(ctx, pool, acc))
			continue
		}

		symbol := e.prices.Symbol(acc.Mint)
		if looksLikeLpToken(symbol) {
			if pos, ok := e.heuristicLpPosition(ctx, acc, symbol); ok {
				lps = append(lps, pos)
				continue
			}
		}

		holding := domain.TokenHolding{
			Mint:     acc.Mint,
			Symbol:   symbol,
			Balance:  acc.UIAmount,
			Decimals: acc.Decimals,
		}
		if price, ok := e.prices.Price(ctx, acc.Mint); ok {
			holding.ValueUSD = holding.Balance * price
		}
		tokens = append(tokens, holding)
	}
	return tokens, lps
}

// lpPosition values a registry-confirmed LP holding as the holder's share
// of the pool's TVL.
func (e *Engine) lpPosition(ctx context.Context, pool *domain.Pool, acc rpc.TokenAccount) domain.LpPosition {
	pos := domain.LpPosition{
		PoolID:   pool.ID,
		PairName: pool.PairName,
		Mint:     acc.Mint,
		Balance:  acc.UIAmount,
	}
	if pool.TVLUSD == nil || *pool.TVLUSD <= 0 {
		return pos
	}
	supply, _, err := e.chain.GetTokenSupply(ctx, acc.Mint)
	if err != nil || supply <= 0 {
		return pos
	}
	pos.ValueUSD = acc.UIAmount / supply * *pool.TVLUSD
	return pos
}

// heuristicLpPosition accepts a symbol-matched LP token only when it can
// be valued and the value passes the sanity cap.
func (e *Engine) heuristicLpPosition(ctx context.Context, acc rpc.TokenAccount, symbol string) (domain.LpPosition, bool) {
	price, ok := e.prices.Price(ctx, acc.Mint)
	if !ok {
		return domain.LpPosition{}, false
	}
	value := acc.UIAmount * price
	if value <= 0 || value > lpValueSanityCapUSD {
		return domain.LpPosition{}, false
	}
	return domain.LpPosition{
		PairName: symbol,
		Mint:     acc.Mint,
		Balance:  acc.UIAmount,
		ValueUSD: value,
	}, true
}

func looksLikeLpToken(symbol string) bool {
	up := strings.ToUpper(symbol)
	return strings.HasSuffix(up, "-LP") || strings.HasPrefix(up, "LP-") ||
		strings.Contains(up, " LP") || up == "LP"
}

// classifyTrades scans each transaction's account keys against the pool
// registry; a known pool address marks a DEX trade. Direction follows the
// wallet's base-token flow in that pool.
func (e *Engine) classifyTrades(ctx context.Context, wallet string, history []*rpc.Transaction) []domain.TradeRecord {
	if e.pools == nil {
		return nil
	}

	var trades []domain.TradeRecord
	for _, tx := range history {
		var pool *domain.Pool
		for _, key := range tx.AccountKeys {
			if p := e.pools.ByID(key); p != nil {
				pool = p
				break
			}
		}
		if pool == nil {
			continue
		}

		wtx := rpc.WalletTxFrom(tx, wallet)
		direction, usd := e.tradeLegs(ctx, pool, wtx)
		trades = append(trades, domain.TradeRecord{
			Signature: tx.Signature,
			PoolID:    pool.ID,
			Wallet:    wallet,
			Direction: direction,
			USD:       usd,
			Timestamp: tx.BlockTime,
		})
	}
	return trades
}

// tradeLegs derives direction and USD value from the wallet's token flows.
// Base inflow is a buy, base outflow a sell. Value prefers the quote leg.
func (e *Engine) tradeLegs(ctx context.Context, pool *domain.Pool, wtx *domain.WalletTx) (domain.Direction, float64) {
	direction := domain.DirectionNone
	var quoteUSD, baseUSD float64

	for _, leg := range wtx.Transfers {
		switch leg.Mint {
		case pool.Base:
			if leg.Inflow {
				direction = domain.DirectionBuy
			} else {
				direction = domain.DirectionSell
			}
			if price, ok := e.prices.Price(ctx, pool.Base); ok {
				baseUSD += uiAmount(leg.Amount, e.decimalsFor(pool.Base, leg.Decimals)) * price
			}
		case pool.Quote:
			if price, ok := e.prices.Price(ctx, pool.Quote); ok {
				quoteUSD += uiAmount(leg.Amount, e.decimalsFor(pool.Quote, leg.Decimals)) * price
			}
		}
	}

	if quoteUSD > 0 {
		return direction, quoteUSD
	}
	return direction, baseUSD
}

func (e *Engine) decimalsFor(mint string, fromLeg int) int {
	if fromLeg >= 0 {
		return fromLeg
	}
	if meta, ok := e.prices.Meta(mint); ok && meta.Decimals > 0 {
		return meta.Decimals
	}
	if mint == config.WSOLMint {
		return 9
	}
	return 6
}

func uiAmount(raw uint64, decimals int) float64 {
	v := float64(raw)
	for i := 0; i < decimals; i++ {
		v /= 10
	}
	return v
}

func shortWallet(w string) string {
	if len(w) <= 8 {
		return w
	}
	return w[:4] + "…" + w[len(w)-4:]
}
