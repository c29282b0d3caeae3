package domain

import "time"

// Pool is a single DLMM pool as published by the registry.
// Pools are immutable once published; a refresh builds a new snapshot.
type Pool struct {
	ID        string // pool address (base58)
	Base      string // base token mint
	Quote     string // quote token mint
	PairName  string // "BASE/QUOTE", derived from resolved symbols
	IsPrimary bool   // true iff base or quote is the primary token

	// LPMint is the pool's LP token mint when the DEX API exposes it.
	// Empty when unknown; LP identification then falls back to heuristics.
	LPMint string

	CreatedAt      *time.Time
	TVLUSD         *float64
	FeeBps         *int
	ProtocolFeeBps *int

	// SpotPrice is the pool's listed base spot price in USD, used as the
	// last valuation fallback for trades.
	SpotPrice *float64

	Volume24hUSD float64
}

// PoolVolumePoint is one captured 24h-volume observation for a pool.
type PoolVolumePoint struct {
	PoolID       string
	PairName     string
	Volume24hUSD float64
	TVLUSD       float64
	CapturedAt   time.Time
}
