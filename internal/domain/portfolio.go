package domain

import "time"

// TokenHolding is one fungible token position aggregated across wallets.
type TokenHolding struct {
	Mint     string
	Symbol   string
	Balance  float64 // ui amount
	Decimals int
	ValueUSD float64
}

// LpPosition is one LP token position.
type LpPosition struct {
	PoolID   string
	PairName string
	Mint     string
	Balance  float64
	ValueUSD float64
}

// StakedPosition is one stake-vault position derived from receipt tokens.
type StakedPosition struct {
	Vault            string
	Mint             string // underlying token mint
	Symbol           string
	Amount           float64 // underlying ui amount
	ValueUSD         float64
	OriginalStakeUSD float64
}

// TradeRecord is one classified DEX trade from a portfolio wallet.
type TradeRecord struct {
	Signature string
	PoolID    string
	Wallet    string
	Direction Direction
	USD       float64
	Timestamp time.Time
}

// WalletBreakdown is the per-wallet slice of an aggregated snapshot.
type WalletBreakdown struct {
	SolBalance       float64
	SolValueUSD      float64
	TokenValueUSD    float64
	LpValueUSD       float64
	StakedValueUSD   float64
	WalletValueUSD   float64
	RealizedPnlUSD   float64
	UnrealizedPnlUSD float64
	BuyCount         int
	SellCount        int
}

// PortfolioSnapshot aggregates a subscriber's holdings across wallets.
// TotalValueUSD always equals the sum of the four value components.
type PortfolioSnapshot struct {
	WalletCount    int
	SolBalance     float64
	SolValueUSD    float64
	TokenValueUSD  float64
	LpValueUSD     float64
	StakedValueUSD float64
	TotalValueUSD  float64

	Tokens          []TokenHolding // top 20 by USD
	LpPositions     []LpPosition
	StakedPositions []StakedPosition
	Trades          []TradeRecord // top 100 most recent

	TradeCount     int
	BuyCount       int
	SellCount      int
	TotalVolumeUSD float64

	RealizedPnlUSD   float64
	UnrealizedPnlUSD float64

	PerWallet map[string]WalletBreakdown

	LastSync time.Time
}

// Clone returns a deep copy of the snapshot.
func (p *PortfolioSnapshot) Clone() *PortfolioSnapshot {
	c := *p
	c.Tokens = append([]TokenHolding(nil), p.Tokens...)
	c.LpPositions = append([]LpPosition(nil), p.LpPositions...)
	c.StakedPositions = append([]StakedPosition(nil), p.StakedPositions...)
	c.Trades = append([]TradeRecord(nil), p.Trades...)
	if p.PerWallet != nil {
		c.PerWallet = make(map[string]WalletBreakdown, len(p.PerWallet))
		for k, v := range p.PerWallet {
			c.PerWallet[k] = v
		}
	}
	return &c
}
