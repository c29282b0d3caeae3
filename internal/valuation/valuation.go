// Package valuation computes USD amounts for trades, LP events, and
// wallet transactions, with ordered fallbacks when amounts or prices
// are missing.
package valuation

import (
	"context"
	"math"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
)

// SanityCapUSD marks a computed amount as garbage; the next fallback in
// the chain is tried instead.
const SanityCapUSD = 100_000_000

// lamportsPerSol converts raw native amounts to UI units.
const lamportsPerSol = 1e9

// PriceSource yields USD prices and token metadata.
type PriceSource interface {
	Price(ctx context.Context, mint string) (float64, bool)
	Meta(mint string) (domain.TokenMeta, bool)
}

// PoolSource yields pools for quote/base resolution.
type PoolSource interface {
	ByID(id string) *domain.Pool
}

// Valuer values events against live prices and the pool snapshot.
type Valuer struct {
	cfg    *config.Config
	prices PriceSource
	pools  PoolSource
}

// NewValuer creates a valuer.
func NewValuer(cfg *config.Config, prices PriceSource, pools PoolSource) *Valuer {
	return &Valuer{cfg: cfg, prices: prices, pools: pools}
}

// TradeUSD values a swap. Fallback order: explicit USD field on the
// message, quote-side amount x quote price, base-side amount x base
// price, base amount x the pool's listed spot price. A result above the
// sanity cap falls through to the next source.
func (v *Valuer) TradeUSD(ctx context.Context, msg decoder.Message, ev *domain.Event) float64 {
	if usd, ok := explicitUSD(msg); ok {
		return usd
	}

	var pool *domain.Pool
	if v.pools != nil && ev.PoolID != "" {
		pool = v.pools.ByID(ev.PoolID)
	}
	if pool != nil {
		if usd, ok := v.legUSD(ctx, ev, pool.Quote); ok {
			return usd
		}
		if usd, ok := v.legUSD(ctx, ev, pool.Base); ok {
			return usd
		}
		if pool.SpotPrice != nil {
			if usd, ok := v.spotUSD(ev, pool); ok {
				return usd
			}
		}
		return 0
	}

	// No pool: value whichever leg has a known price.
	if usd, ok := v.legUSD(ctx, ev, ev.Amounts.MintIn); ok {
		return usd
	}
	if usd, ok := v.legUSD(ctx, ev, ev.Amounts.MintOut); ok {
		return usd
	}
	return 0
}

// legUSD values the swap leg whose mint equals the given mint.
func (v *Valuer) legUSD(ctx context.Context, ev *domain.Event, mint string) (float64, bool) {
	if mint == "" {
		return 0, false
	}
	var amount uint64
	var decimals int
	switch mint {
	case ev.Amounts.MintIn:
		amount, decimals = ev.Amounts.In, ev.Amounts.DecimalsIn
	case ev.Amounts.MintOut:
		amount, decimals = ev.Amounts.Out, ev.Amounts.DecimalsOut
	default:
		return 0, false
	}
	if amount == 0 {
		return 0, false
	}
	price, ok := v.prices.Price(ctx, mint)
	if !ok {
		return 0, false
	}
	usd := uiAmount(amount, v.decimalsFor(mint, decimals)) * price
	return usd, sane(usd)
}

// spotUSD values the base leg against the pool's listed spot price.
func (v *Valuer) spotUSD(ev *domain.Event, pool *domain.Pool) (float64, bool) {
	var amount uint64
	var decimals int
	switch pool.Base {
	case ev.Amounts.MintIn:
		amount, decimals = ev.Amounts.In, ev.Amounts.DecimalsIn
	case ev.Amounts.MintOut:
		amount, decimals = ev.Amounts.Out, ev.Amounts.DecimalsOut
	default:
		return 0, false
	}
	if amount == 0 {
		return 0, false
	}
	usd := uiAmount(amount, v.decimalsFor(pool.Base, decimals)) * *pool.SpotPrice
	return usd, sane(usd)
}

// LpUSD values a liquidity event: explicit USD field, else the sum of
// both sides where known. Single-sided deposits are legal; the known
// side alone is never doubled.
func (v *Valuer) LpUSD(ctx context.Context, msg decoder.Message, ev *domain.Event) float64 {
	if usd, ok := explicitUSD(msg); ok {
		return usd
	}

	var pool *domain.Pool
	if v.pools != nil && ev.PoolID != "" {
		pool = v.pools.ByID(ev.PoolID)
	}
	if pool == nil {
		return 0
	}

	var total float64
	if amount, ok := msg.Uint("base_amount", "amount_base"); ok && amount > 0 {
		if price, ok := v.prices.Price(ctx, pool.Base); ok {
			total += uiAmount(amount, v.decimalsFor(pool.Base, -1)) * price
		}
	}
	if amount, ok := msg.Uint("quote_amount", "amount_quote"); ok && amount > 0 {
		if price, ok := v.prices.Price(ctx, pool.Quote); ok {
			total += uiAmount(amount, v.decimalsFor(pool.Quote, -1)) * price
		}
	}
	if !sane(total) {
		return 0
	}
	return total
}

// WalletTxUSD sums the native leg and every token leg. The sum is halved
// only for swap-shaped transactions, where both sides of one trade are
// visible; one-sided transfers are attributed in full.
func (v *Valuer) WalletTxUSD(ctx context.Context, tx *domain.WalletTx) float64 {
	if tx == nil {
		return 0
	}

	var total float64
	if tx.Lamports > 0 {
		if price, ok := v.prices.Price(ctx, config.WSOLMint); ok {
			total += float64(tx.Lamports) / lamportsPerSol * price
		}
	}
	for _, leg := range tx.Transfers {
		price, ok := v.prices.Price(ctx, leg.Mint)
		if !ok {
			continue
		}
		total += uiAmount(leg.Amount, v.decimalsFor(leg.Mint, leg.Decimals)) * price
	}

	if tx.IsSwapShaped() {
		total /= 2
	}
	if !sane(total) {
		return 0
	}
	return total
}

// decimalsFor resolves decimals: the message value wins, then cached
// metadata, then a network-default guess.
func (v *Valuer) decimalsFor(mint string, fromMsg int) int {
	if fromMsg >= 0 {
		return fromMsg
	}
	if meta, ok := v.prices.Meta(mint); ok && meta.Decimals > 0 {
		return meta.Decimals
	}
	if mint == config.WSOLMint {
		return 9
	}
	return 6
}

// explicitUSD reads a pre-computed USD field off the message.
func explicitUSD(msg decoder.Message) (float64, bool) {
	usd, ok := msg.Float("usd_value", "value_usd", "amount_usd", "usd", "value")
	if !ok || usd <= 0 || !sane(usd) {
		return 0, false
	}
	return usd, true
}

func uiAmount(raw uint64, decimals int) float64 {
	return float64(raw) / math.Pow10(decimals)
}

func sane(usd float64) bool {
	return usd > 0 && usd <= SanityCapUSD
}
