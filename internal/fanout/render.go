package fanout

import (
	"fmt"
	"strings"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/notify"
	"dlmm-tracker/internal/prices"
)

// render builds the alert text once per event; every recipient gets the
// same message. Markdown specials in externally sourced strings are
// escaped before interpolation.
func (e *Engine) render(ev *domain.Event, pool *domain.Pool) notify.Message {
	var b strings.Builder

	pair := e.pairName(ev, pool)
	switch ev.Type {
	case domain.EventSwap:
		verb := "Swap"
		switch ev.Direction {
		case domain.DirectionBuy:
			verb = "Buy"
		case domain.DirectionSell:
			verb = "Sell"
		}
		fmt.Fprintf(&b, "*%s* on %s", verb, pair)
	case domain.EventLpAdd:
		fmt.Fprintf(&b, "*Liquidity added* to %s", pair)
	case domain.EventLpRemove:
		fmt.Fprintf(&b, "*Liquidity removed* from %s", pair)
	case domain.EventPoolInit:
		fmt.Fprintf(&b, "*New pool* %s", pair)
	case domain.EventLockLiquidity:
		fmt.Fprintf(&b, "*Liquidity locked* in %s", pair)
	case domain.EventUnlockLiquidity:
		fmt.Fprintf(&b, "*Liquidity unlocked* in %s", pair)
	case domain.EventClaimRewards:
		fmt.Fprintf(&b, "*Rewards claimed* on %s", pair)
	case domain.EventFeesDistributed:
		fmt.Fprintf(&b, "*Fees distributed* on %s", pair)
	case domain.EventClosePool:
		fmt.Fprintf(&b, "*Pool closed*: %s", pair)
	case domain.EventProtocolFees:
		fmt.Fprintf(&b, "*Protocol fees collected* on %s", pair)
	case domain.EventAdmin, domain.EventSetup:
		name := ev.Name
		if name == "" {
			name = "admin action"
		}
		fmt.Fprintf(&b, "*Admin*: %s", prices.EscapeMarkdown(name))
	case domain.EventWalletTx:
		verb := "Wallet activity"
		if ev.WalletTx != nil && ev.WalletTx.ViaDEX {
			verb = "DLMM activity"
		}
		fmt.Fprintf(&b, "*%s*: `%s`", verb, prices.EscapeMarkdown(shortMint(ev.Wallet)))
	default:
		fmt.Fprintf(&b, "*%s* on %s", ev.Type, pair)
	}

	if ev.USD > 0 {
		fmt.Fprintf(&b, "\nValue: $%s", formatUSD(ev.USD))
	}
	if ev.Wallet != "" && ev.Type != domain.EventWalletTx {
		fmt.Fprintf(&b, "\nWallet: `%s`", prices.EscapeMarkdown(shortMint(ev.Wallet)))
	}

	hints := []notify.ActionHint{notify.HintSnoozeHour}
	if ev.Signature != "" {
		hints = append([]notify.ActionHint{notify.HintViewTx}, hints...)
	}
	if ev.Type == domain.EventSwap && pool != nil && !pool.IsPrimary {
		hints = append(hints, notify.HintAddToWatchlist)
	}

	return notify.Message{Text: b.String(), Hints: hints}
}

// pairName renders "BASE/QUOTE" from the pool when known, else falls
// back to the pool id.
func (e *Engine) pairName(ev *domain.Event, pool *domain.Pool) string {
	if pool != nil {
		if pool.PairName != "" {
			return prices.EscapeMarkdown(pool.PairName)
		}
		return prices.EscapeMarkdown(e.symbol(pool.Base) + "/" + e.symbol(pool.Quote))
	}
	if ev.PoolID != "" {
		return "`" + prices.EscapeMarkdown(shortMint(ev.PoolID)) + "`"
	}
	return "unknown pool"
}

// formatUSD renders with thousands separators and two decimals under 1k.
func formatUSD(usd float64) string {
	if usd >= 1000 {
		whole := int64(usd)
		var parts []string
		for whole >= 1000 {
			parts = append([]string{fmt.Sprintf("%03d", whole%1000)}, parts...)
			whole /= 1000
		}
		parts = append([]string{fmt.Sprintf("%d", whole)}, parts...)
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("%.2f", usd)
}
