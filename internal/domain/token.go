package domain

import "time"

// MetaSource identifies where token metadata was resolved from.
type MetaSource string

const (
	MetaSourceProtocolAPI MetaSource = "protocol_api"
	MetaSourceAggregator  MetaSource = "aggregator"
	MetaSourceDexScreener MetaSource = "dexscreener"
	MetaSourceOnchain     MetaSource = "onchain_metadata"
	MetaSourceDefault     MetaSource = "default"
)

// TokenMeta holds resolved symbol/decimals for a mint.
type TokenMeta struct {
	Mint     string
	Symbol   string
	Name     string
	Decimals int // 0..18
	Source   MetaSource
}

// PriceEntry is a cached USD price for a mint.
type PriceEntry struct {
	Mint      string
	PriceUSD  float64
	UpdatedAt time.Time
	Source    string
}

// Usable reports whether the entry is fresh enough to serve.
// A price older than twice the refresh interval is treated as missing.
func (p *PriceEntry) Usable(now time.Time, refreshInterval time.Duration) bool {
	if p == nil {
		return false
	}
	return now.Sub(p.UpdatedAt) < 2*refreshInterval
}
