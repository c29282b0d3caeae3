package valuation

import (
	"context"
	"testing"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
)

const (
	primaryMint = "PRIMARYmint11111111111111111111111111111111"
	usdcMint    = config.USDCMint
)

type fakePrices struct {
	prices map[string]float64
	meta   map[string]domain.TokenMeta
}

func (f *fakePrices) Price(_ context.Context, mint string) (float64, bool) {
	p, ok := f.prices[mint]
	return p, ok
}

func (f *fakePrices) Meta(mint string) (domain.TokenMeta, bool) {
	m, ok := f.meta[mint]
	return m, ok
}

type fakePools map[string]*domain.Pool

func (f fakePools) ByID(id string) *domain.Pool { return f[id] }

func testValuer(prices map[string]float64, pool *domain.Pool) *Valuer {
	cfg := config.Default()
	cfg.PrimaryTokenMint = primaryMint
	cfg.DEXProgramID = "PROG"
	pp := fakePools{}
	if pool != nil {
		pp[pool.ID] = pool
	}
	return NewValuer(cfg, &fakePrices{prices: prices, meta: map[string]domain.TokenMeta{}}, pp)
}

// A 1 USDC quote leg at 6 decimals values the trade at exactly $1.00.
func TestTradeUSD_QuoteSide(t *testing.T) {
	pool := &domain.Pool{ID: "P1", Base: primaryMint, Quote: usdcMint, IsPrimary: true}
	v := testValuer(map[string]float64{usdcMint: 1.0}, pool)

	ev := &domain.Event{
		Type:   domain.EventSwap,
		PoolID: "P1",
		Amounts: domain.Amounts{
			In: 1_000_000, MintIn: usdcMint, DecimalsIn: 6,
			Out: 5_000_000_000, MintOut: primaryMint, DecimalsOut: 9,
		},
	}

	usd := v.TradeUSD(context.Background(), decoder.Message{}, ev)
	if usd != 1.00 {
		t.Fatalf("usd = %v, want 1.00", usd)
	}
}

func TestTradeUSD_ExplicitFieldWins(t *testing.T) {
	v := testValuer(nil, nil)
	ev := &domain.Event{Type: domain.EventSwap}

	usd := v.TradeUSD(context.Background(), decoder.Message{"usd_value": 42.5}, ev)
	if usd != 42.5 {
		t.Fatalf("usd = %v, want 42.5", usd)
	}
}

func TestTradeUSD_ExplicitFieldOverCapIgnored(t *testing.T) {
	pool := &domain.Pool{ID: "P1", Base: primaryMint, Quote: usdcMint}
	v := testValuer(map[string]float64{usdcMint: 1.0}, pool)
	ev := &domain.Event{
		Type:   domain.EventSwap,
		PoolID: "P1",
		Amounts: domain.Amounts{
			In: 2_000_000, MintIn: usdcMint, DecimalsIn: 6,
		},
	}

	usd := v.TradeUSD(context.Background(), decoder.Message{"value": 5e9}, ev)
	if usd != 2.00 {
		t.Fatalf("usd = %v, want fallback to quote side 2.00", usd)
	}
}

func TestTradeUSD_BaseSideFallback(t *testing.T) {
	pool := &domain.Pool{ID: "P1", Base: primaryMint, Quote: usdcMint}
	// No quote price available; base is priced.
	v := testValuer(map[string]float64{primaryMint: 2.0}, pool)
	ev := &domain.Event{
		Type:   domain.EventSwap,
		PoolID: "P1",
		Amounts: domain.Amounts{
			In: 1_000_000, MintIn: usdcMint, DecimalsIn: 6,
			Out: 3_000_000_000, MintOut: primaryMint, DecimalsOut: 9,
		},
	}

	usd := v.TradeUSD(context.Background(), decoder.Message{}, ev)
	if usd != 6.0 {
		t.Fatalf("usd = %v, want base side 3 x 2.0 = 6.0", usd)
	}
}

func TestTradeUSD_SpotPriceLastResort(t *testing.T) {
	spot := 1.5
	pool := &domain.Pool{ID: "P1", Base: primaryMint, Quote: usdcMint, SpotPrice: &spot}
	v := testValuer(nil, pool) // no prices at all
	ev := &domain.Event{
		Type:   domain.EventSwap,
		PoolID: "P1",
		Amounts: domain.Amounts{
			Out: 4_000_000_000, MintOut: primaryMint, DecimalsOut: 9,
		},
	}

	usd := v.TradeUSD(context.Background(), decoder.Message{}, ev)
	if usd != 6.0 {
		t.Fatalf("usd = %v, want 4 x 1.5 = 6.0", usd)
	}
}

func TestLpUSD_BothSides(t *testing.T) {
	pool := &domain.Pool{ID: "P1", Base: primaryMint, Quote: usdcMint}
	v := testValuer(map[string]float64{usdcMint: 1.0, primaryMint: 2.0}, pool)
	v.prices.(*fakePrices).meta[primaryMint] = domain.TokenMeta{Mint: primaryMint, Decimals: 9}
	v.prices.(*fakePrices).meta[usdcMint] = domain.TokenMeta{Mint: usdcMint, Decimals: 6}

	ev := &domain.Event{Type: domain.EventLpAdd, PoolID: "P1"}
	msg := decoder.Message{
		"base_amount":  float64(2_000_000_000), // 2 primary x $2
		"quote_amount": float64(3_000_000),     // 3 USDC x $1
	}

	usd := v.LpUSD(context.Background(), msg, ev)
	if usd != 7.0 {
		t.Fatalf("usd = %v, want 4 + 3 = 7.0", usd)
	}
}

func TestLpUSD_SingleSidedNotDoubled(t *testing.T) {
	pool := &domain.Pool{ID: "P1", Base: primaryMint, Quote: usdcMint}
	v := testValuer(map[string]float64{usdcMint: 1.0}, pool)
	v.prices.(*fakePrices).meta[usdcMint] = domain.TokenMeta{Mint: usdcMint, Decimals: 6}

	ev := &domain.Event{Type: domain.EventLpAdd, PoolID: "P1"}
	msg := decoder.Message{"quote_amount": float64(5_000_000)}

	usd := v.LpUSD(context.Background(), msg, ev)
	if usd != 5.0 {
		t.Fatalf("usd = %v, want the known side alone, 5.0", usd)
	}
}

func TestWalletTxUSD_SwapShapedHalved(t *testing.T) {
	v := testValuer(map[string]float64{
		config.WSOLMint: 100.0,
		"MINT_A":        1.0,
	}, nil)
	fp := v.prices.(*fakePrices)
	fp.meta["MINT_A"] = domain.TokenMeta{Mint: "MINT_A", Decimals: 6}

	tx := &domain.WalletTx{
		Wallet:   "W1",
		Lamports: 1_000_000_000, // 1 SOL = $100
		Transfers: []domain.TokenTransfer{
			{Mint: "MINT_A", Amount: 100_000_000, Decimals: 6, Inflow: true}, // $100
			{Mint: "MINT_A", Amount: 0, Decimals: 6, Inflow: false},
		},
	}

	usd := v.WalletTxUSD(context.Background(), tx)
	if usd != 100.0 {
		t.Fatalf("usd = %v, want (100 + 100) / 2 = 100", usd)
	}
}

func TestWalletTxUSD_OneSidedNotHalved(t *testing.T) {
	v := testValuer(map[string]float64{"MINT_A": 2.0}, nil)
	v.prices.(*fakePrices).meta["MINT_A"] = domain.TokenMeta{Mint: "MINT_A", Decimals: 6}

	tx := &domain.WalletTx{
		Wallet: "W1",
		Transfers: []domain.TokenTransfer{
			{Mint: "MINT_A", Amount: 3_000_000, Decimals: 6, Inflow: true},
		},
	}

	usd := v.WalletTxUSD(context.Background(), tx)
	if usd != 6.0 {
		t.Fatalf("usd = %v, want full 6.0 for a one-sided transfer", usd)
	}
}
