package fanout

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/notify"
	"dlmm-tracker/internal/prices"
)

// digestWindow bounds how far back the alert ring is scanned when
// picking the day's most active pool.
const digestWindow = 24 * time.Hour

// Digest sends the daily summary to every subscriber with the digest
// toggle on. Blocked and disabled subscribers are skipped; snooze and
// quiet hours do not apply to the digest. Returns the number of
// successful sends. The caller resets daily stats afterwards.
func (e *Engine) Digest(ctx context.Context) int {
	var targets []int64
	e.subs.ForEach(func(sub *domain.Subscriber) {
		if sub.Enabled && !sub.Blocked && sub.DailyDigest {
			targets = append(targets, sub.ChatID)
		}
	})
	if len(targets) == 0 {
		return 0
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	now := e.now().UTC()
	sent := 0
	for i, chatID := range targets {
		if i > 0 && i%batchSize == 0 {
			e.sleep(batchPause)
		}
		sub, ok := e.subs.Get(chatID)
		if !ok {
			continue
		}
		if e.send(ctx, chatID, e.renderDigest(sub, now)) {
			sent++
		}
	}
	return sent
}

// renderDigest builds the summary from the day's counters and the alert
// ring.
func (e *Engine) renderDigest(sub *domain.Subscriber, now time.Time) notify.Message {
	st := sub.DailyStats

	var b strings.Builder
	b.WriteString("*Daily digest*\n")
	if st.Alerts == 0 {
		b.WriteString("No alerts in the last 24 hours.")
		return notify.Message{Text: b.String()}
	}

	fmt.Fprintf(&b, "Alerts: %d", st.Alerts)
	var parts []string
	if st.SwapAlerts > 0 {
		parts = append(parts, fmt.Sprintf("%d swaps", st.SwapAlerts))
	}
	if st.LpAlerts > 0 {
		parts = append(parts, fmt.Sprintf("%d liquidity", st.LpAlerts))
	}
	if st.WalletAlerts > 0 {
		parts = append(parts, fmt.Sprintf("%d wallet", st.WalletAlerts))
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "\nAlerted volume: $%s", formatUSD(st.VolumeUSD))

	if poolID, usd := topAlertedPool(sub, now.Add(-digestWindow)); poolID != "" {
		name := "`" + prices.EscapeMarkdown(shortMint(poolID)) + "`"
		if e.pools != nil {
			if pool := e.pools.ByID(poolID); pool != nil && pool.PairName != "" {
				name = prices.EscapeMarkdown(pool.PairName)
			}
		}
		fmt.Fprintf(&b, "\nTop pool: %s ($%s)", name, formatUSD(usd))
	}

	return notify.Message{Text: b.String()}
}

// topAlertedPool returns the pool with the highest alerted USD volume in
// the ring since cutoff, ties broken by pool id.
func topAlertedPool(sub *domain.Subscriber, cutoff time.Time) (string, float64) {
	volumes := make(map[string]float64)
	for _, a := range sub.RecentAlerts {
		if a.PoolID == "" || a.SentAt.Before(cutoff) {
			continue
		}
		volumes[a.PoolID] += a.USD
	}
	var top string
	var topUSD float64
	for id, usd := range volumes {
		if usd > topUSD || (usd == topUSD && (top == "" || id < top)) {
			top, topUSD = id, usd
		}
	}
	return top, topUSD
}
