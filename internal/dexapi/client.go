// Package dexapi is the client for the DEX protocol's public HTTP API:
// pool listings, recent trades, candles, asset metadata, and the ticket
// endpoint guarding the trade WebSocket.
package dexapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dlmm-tracker/internal/ratelimit"
)

// Client calls the protocol API. Responses are parsed leniently because
// the API has shipped several envelope shapes over time.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *ratelimit.Limiter
}

// Options configures Client.
type Options struct {
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
}

// NewClient creates a protocol API client for baseURL.
func NewClient(baseURL string, opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    opts.HTTPClient,
		limiter: opts.Limiter,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
	}
	return ratelimit.FetchJSON(ctx, c.http, c.baseURL+path, out, nil)
}

// PoolInfo is one pool row from the pools listing.
type PoolInfo struct {
	Address        string
	BaseMint       string
	QuoteMint      string
	LPMint         string
	BaseSymbol     string
	QuoteSymbol    string
	TVLUSD         float64
	Volume24hUSD   float64
	FeeBps         int
	ProtocolFeeBps int
	SpotPriceUSD   float64
	CreatedAt      time.Time
}

// Pools returns every pool the protocol knows about.
func (c *Client) Pools(ctx context.Context) ([]PoolInfo, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/pools", &raw); err != nil {
		return nil, fmt.Errorf("fetch pools: %w", err)
	}
	rows, err := unwrapList(raw, "pools", "pairs", "data")
	if err != nil {
		return nil, fmt.Errorf("parse pools: %w", err)
	}

	pools := make([]PoolInfo, 0, len(rows))
	for _, row := range rows {
		p := poolFromRow(row)
		if p.Address == "" {
			continue
		}
		pools = append(pools, p)
	}
	return pools, nil
}

func poolFromRow(row map[string]json.RawMessage) PoolInfo {
	p := PoolInfo{
		Address:      firstString(row, "address", "poolAddress", "pool", "id", "pair_address"),
		BaseMint:     firstString(row, "baseMint", "base_mint", "tokenA", "base"),
		QuoteMint:    firstString(row, "quoteMint", "quote_mint", "tokenB", "quote"),
		LPMint:       firstString(row, "lpMint", "lp_mint", "lpToken"),
		BaseSymbol:   firstString(row, "baseSymbol", "base_symbol"),
		QuoteSymbol:  firstString(row, "quoteSymbol", "quote_symbol"),
		TVLUSD:       firstFloat(row, "tvl", "tvlUsd", "liquidity", "liquidityUsd"),
		Volume24hUSD: firstFloat(row, "volume24h", "volume_24h", "volume24hUsd"),
		SpotPriceUSD: firstFloat(row, "price", "spotPrice", "priceUsd"),
	}
	p.FeeBps = int(firstFloat(row, "feeBps", "fee_bps"))
	p.ProtocolFeeBps = int(firstFloat(row, "protocolFeeBps", "protocol_fee_bps"))
	if ts := firstFloat(row, "createdAt", "created_at"); ts > 0 {
		p.CreatedAt = unixFlexible(ts)
	}
	return p
}

// Trade is one recent trade row for a pool.
type Trade struct {
	Signature string
	Pool      string
	Wallet    string
	Side      string
	AmountUSD float64
	Timestamp time.Time
}

// Pool returns a single pool by address.
func (c *Client) Pool(ctx context.Context, id string) (*PoolInfo, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/pool/"+url.PathEscape(id), &raw); err != nil {
		return nil, fmt.Errorf("fetch pool: %w", err)
	}
	var row map[string]json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("parse pool: %w", err)
	}
	if nested, ok := row["pool"]; ok {
		if err := json.Unmarshal(nested, &row); err != nil {
			return nil, fmt.Errorf("parse pool: %w", err)
		}
	}
	p := poolFromRow(row)
	if p.Address == "" {
		p.Address = id
	}
	return &p, nil
}

// Trades returns the most recent trades for a pool, newest first.
func (c *Client) Trades(ctx context.Context, pool string, limit int) ([]Trade, error) {
	path := fmt.Sprintf("/trades/%s?limit=%d", url.PathEscape(pool), limit)
	var raw json.RawMessage
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}
	rows, err := unwrapList(raw, "trades", "data")
	if err != nil {
		return nil, fmt.Errorf("parse trades: %w", err)
	}

	trades := make([]Trade, 0, len(rows))
	for _, row := range rows {
		t := Trade{
			Signature: firstString(row, "signature", "txSignature", "sig", "txid"),
			Pool:      firstString(row, "pool", "poolAddress", "pair"),
			Wallet:    firstString(row, "wallet", "owner", "trader", "maker"),
			Side:      strings.ToLower(firstString(row, "side", "tradeType", "type")),
			AmountUSD: firstFloat(row, "amountUsd", "volumeUsd", "usd"),
		}
		if t.Pool == "" {
			t.Pool = pool
		}
		if ts := firstFloat(row, "timestamp", "blockTime", "time"); ts > 0 {
			t.Timestamp = unixFlexible(ts)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Candle is one OHLCV bar.
type Candle struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	VolumeUSD float64
	Timestamp time.Time
}

// Candles returns OHLCV bars for a pool. tf is one of 15m, 1h, 4h, 1d.
func (c *Client) Candles(ctx context.Context, pool, tf string, limit int) ([]Candle, error) {
	path := fmt.Sprintf("/candles/%s?tf=%s&limit=%d",
		url.PathEscape(pool), url.QueryEscape(tf), limit)
	var raw json.RawMessage
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	rows, err := unwrapList(raw, "candles", "data")
	if err != nil {
		return nil, fmt.Errorf("parse candles: %w", err)
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		cd := Candle{
			Open:      firstFloat(row, "open", "o"),
			High:      firstFloat(row, "high", "h"),
			Low:       firstFloat(row, "low", "l"),
			Close:     firstFloat(row, "close", "c"),
			VolumeUSD: firstFloat(row, "volume", "v", "volumeUsd"),
		}
		if ts := firstFloat(row, "timestamp", "time", "t"); ts > 0 {
			cd.Timestamp = unixFlexible(ts)
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

// Asset is token metadata as the protocol API reports it.
type Asset struct {
	Mint     string
	Symbol   string
	Name     string
	Decimals int
	PriceUSD float64
}

// Asset returns metadata for a mint. Missing assets surface as an
// UpstreamError with status 404.
func (c *Client) Asset(ctx context.Context, mint string) (*Asset, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/asset?id="+url.QueryEscape(mint), &raw); err != nil {
		return nil, fmt.Errorf("fetch asset: %w", err)
	}

	var row map[string]json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("parse asset: %w", err)
	}
	if nested, ok := row["asset"]; ok {
		if err := json.Unmarshal(nested, &row); err != nil {
			return nil, fmt.Errorf("parse asset: %w", err)
		}
	}

	a := &Asset{
		Mint:     firstString(row, "mint", "address"),
		Symbol:   firstString(row, "symbol", "ticker"),
		Name:     firstString(row, "name"),
		Decimals: int(firstFloat(row, "decimals")),
		PriceUSD: firstFloat(row, "price", "priceUsd"),
	}
	if a.Mint == "" {
		a.Mint = mint
	}
	return a, nil
}

// PoolVolume is one row of the 24h volume listing.
type PoolVolume struct {
	Pool         string
	Volume24hUSD float64
}

// Volumes returns the 24h volume per pool.
func (c *Client) Volumes(ctx context.Context) ([]PoolVolume, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/volumes?tf=24h", &raw); err != nil {
		return nil, fmt.Errorf("fetch volumes: %w", err)
	}
	rows, err := unwrapList(raw, "volumes", "pools", "data")
	if err != nil {
		return nil, fmt.Errorf("parse volumes: %w", err)
	}

	volumes := make([]PoolVolume, 0, len(rows))
	for _, row := range rows {
		v := PoolVolume{
			Pool:         firstString(row, "pool", "address", "poolAddress", "pair_address"),
			Volume24hUSD: firstFloat(row, "volume", "volume24h", "volume_24h", "volumeUsd"),
		}
		if v.Pool == "" {
			continue
		}
		volumes = append(volumes, v)
	}
	return volumes, nil
}

// Health probes the API health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	return c.get(ctx, "/health", &out)
}

// WSTicket obtains a short-lived ticket for the trade WebSocket.
func (c *Client) WSTicket(ctx context.Context) (string, error) {
	var raw map[string]json.RawMessage
	if err := c.get(ctx, "/ws-ticket", &raw); err != nil {
		return "", fmt.Errorf("fetch ws ticket: %w", err)
	}
	ticket := firstString(raw, "ticket", "token")
	if ticket == "" {
		return "", fmt.Errorf("ws ticket missing in response")
	}
	return ticket, nil
}

// unwrapList accepts either a JSON array at the root or an object with
// the array under one of the given keys.
func unwrapList(raw json.RawMessage, keys ...string) ([]map[string]json.RawMessage, error) {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("neither array nor object")
	}
	for _, key := range keys {
		nested, ok := envelope[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(nested, &rows); err == nil {
			return rows, nil
		}
	}
	return nil, fmt.Errorf("no list under %v", keys)
}

func firstString(row map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := row[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func firstFloat(row map[string]json.RawMessage, keys ...string) float64 {
	for _, key := range keys {
		raw, ok := row[key]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return f
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			var parsed float64
			if _, err := fmt.Sscanf(s, "%g", &parsed); err == nil {
				return parsed
			}
		}
	}
	return 0
}

// unixFlexible treats values past ~2001-09 in milliseconds as millis.
func unixFlexible(ts float64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(int64(ts)).UTC()
	}
	return time.Unix(int64(ts), 0).UTC()
}
