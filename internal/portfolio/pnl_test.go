package portfolio

import (
	"testing"
	"time"

	"dlmm-tracker/internal/domain"
)

func trade(pool string, dir domain.Direction, usd float64, at time.Time) domain.TradeRecord {
	return domain.TradeRecord{PoolID: pool, Direction: dir, USD: usd, Timestamp: at}
}

func TestRealizedPnL_SellAmortizesBasis(t *testing.T) {
	t0 := time.Now()
	trades := []domain.TradeRecord{
		trade("P1", domain.DirectionBuy, 100, t0),
		trade("P1", domain.DirectionBuy, 100, t0.Add(time.Minute)),
		trade("P1", domain.DirectionSell, 150, t0.Add(2*time.Minute)),
		trade("P1", domain.DirectionSell, 100, t0.Add(3*time.Minute)),
	}

	// First sell: p = 150/200, consumes 150 of basis, realizes 0, basis 50.
	// Second sell: p capped at 1, consumes the remaining 50, realizes 50.
	if got := RealizedPnL(trades); got != 50 {
		t.Fatalf("realized = %v, want 50", got)
	}
}

func TestRealizedPnL_SellBeyondBasisIsAllProfit(t *testing.T) {
	t0 := time.Now()
	trades := []domain.TradeRecord{
		trade("P1", domain.DirectionBuy, 100, t0),
		trade("P1", domain.DirectionSell, 300, t0.Add(time.Minute)),
	}
	if got := RealizedPnL(trades); got != 200 {
		t.Fatalf("realized = %v, want 200", got)
	}
}

func TestRealizedPnL_SellWithNoBasis(t *testing.T) {
	trades := []domain.TradeRecord{
		trade("P1", domain.DirectionSell, 80, time.Now()),
	}
	if got := RealizedPnL(trades); got != 80 {
		t.Fatalf("realized = %v, want 80 when there is no basis to consume", got)
	}
}

func TestRealizedPnL_PerPoolIsolation(t *testing.T) {
	t0 := time.Now()
	trades := []domain.TradeRecord{
		trade("P1", domain.DirectionBuy, 100, t0),
		trade("P2", domain.DirectionSell, 50, t0.Add(time.Minute)),
	}
	// P2's sell has no basis in P2; P1's basis is untouched.
	if got := RealizedPnL(trades); got != 50 {
		t.Fatalf("realized = %v, want 50", got)
	}
}

func TestRealizedPnL_UnsortedInput(t *testing.T) {
	t0 := time.Now()
	// Same trades as the amortization case, delivered out of order.
	trades := []domain.TradeRecord{
		trade("P1", domain.DirectionSell, 100, t0.Add(3*time.Minute)),
		trade("P1", domain.DirectionBuy, 100, t0),
		trade("P1", domain.DirectionSell, 150, t0.Add(2*time.Minute)),
		trade("P1", domain.DirectionBuy, 100, t0.Add(time.Minute)),
	}
	if got := RealizedPnL(trades); got != 50 {
		t.Fatalf("realized = %v, want 50", got)
	}
}
