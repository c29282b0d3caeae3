package portfolio

import (
	"sort"

	"dlmm-tracker/internal/domain"
)

// RealizedPnL computes cost-basis realized profit from a wallet's trade
// history. Per pool: buys accumulate cost basis; a sell realizes the
// difference between proceeds and the proportional share of the basis it
// consumes. A sell exceeding the remaining basis consumes it fully.
func RealizedPnL(trades []domain.TradeRecord) float64 {
	sorted := append([]domain.TradeRecord(nil), trades...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	type book struct {
		boughtUSD float64
		soldUSD   float64
		costBasis float64
	}
	books := make(map[string]*book)

	var realized float64
	for _, tr := range sorted {
		b, ok := books[tr.PoolID]
		if !ok {
			b = &book{}
			books[tr.PoolID] = b
		}
		switch tr.Direction {
		case domain.DirectionBuy:
			b.boughtUSD += tr.USD
			b.costBasis += tr.USD
		case domain.DirectionSell:
			b.soldUSD += tr.USD
			if b.costBasis > 0 {
				p := tr.USD / b.costBasis
				if p > 1 {
					p = 1
				}
				consumed := b.costBasis * p
				realized += tr.USD - consumed
				b.costBasis -= consumed
			} else {
				realized += tr.USD
			}
		}
	}
	return realized
}
