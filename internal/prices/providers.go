package prices

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/ratelimit"
)

var errNoQuote = errors.New("no provider returned a quote")

// aggregatorBatchSize is the mint cap per batched asset request.
const aggregatorBatchSize = 50

// refreshBatchAggregatorA resolves prices for up to 50 mints per request
// through the RPC provider's asset batch method. Returns the set of mints
// that got a fresh entry.
func (r *Resolver) refreshBatchAggregatorA(ctx context.Context, mints []string) map[string]bool {
	resolved := make(map[string]bool)
	if r.cfg.RPCEndpoint == "" {
		return resolved
	}

	for start := 0; start < len(mints); start += aggregatorBatchSize {
		end := start + aggregatorBatchSize
		if end > len(mints) {
			end = len(mints)
		}
		batch := mints[start:end]

		if err := r.limits.Acquire(ctx, "rpc"); err != nil {
			return resolved
		}

		var resp struct {
			Result []struct {
				ID        string `json:"id"`
				TokenInfo struct {
					Symbol    string `json:"symbol"`
					Decimals  int    `json:"decimals"`
					PriceInfo struct {
						PricePerToken float64 `json:"price_per_token"`
					} `json:"price_info"`
				} `json:"token_info"`
			} `json:"result"`
		}
		start := r.now()
		err := ratelimit.FetchJSON(ctx, r.client, r.cfg.RPCEndpoint, &resp, &ratelimit.FetchOptions{
			Body: map[string]any{
				"jsonrpc": "2.0",
				"id":      1,
				"method":  "getAssetBatch",
				"params":  map[string]any{"ids": batch},
			},
		})
		r.recordOutcome(ProviderAggregatorA, r.now().Sub(start), err)
		if err != nil {
			continue
		}

		for _, asset := range resp.Result {
			if asset.TokenInfo.PriceInfo.PricePerToken > 0 {
				r.prices.Set(asset.ID, *r.entry(asset.ID, asset.TokenInfo.PriceInfo.PricePerToken, ProviderAggregatorA))
				resolved[asset.ID] = true
			}
			if asset.TokenInfo.Symbol != "" {
				r.storeMeta(domain.TokenMeta{
					Mint:     asset.ID,
					Symbol:   asset.TokenInfo.Symbol,
					Decimals: asset.TokenInfo.Decimals,
					Source:   domain.MetaSourceAggregator,
				})
			}
		}
	}
	return resolved
}

// priceFromDexScreener resolves one mint through the pair aggregator.
func (r *Resolver) priceFromDexScreener(ctx context.Context, mint string) (float64, error) {
	if r.cfg.DexScreenerURL == "" {
		return 0, errNoQuote
	}

	var resp struct {
		Pairs []struct {
			PriceUSD  string `json:"priceUsd"`
			BaseToken struct {
				Symbol string `json:"symbol"`
			} `json:"baseToken"`
		} `json:"pairs"`
	}
	u := r.cfg.DexScreenerURL + "/latest/dex/tokens/" + url.PathEscape(mint)
	start := r.now()
	err := ratelimit.FetchJSON(ctx, r.client, u, &resp, nil)
	r.recordOutcome(ProviderDexScreener, r.now().Sub(start), err)
	if err != nil {
		return 0, fmt.Errorf("dexscreener: %w", err)
	}

	for _, pair := range resp.Pairs {
		price, err := strconv.ParseFloat(pair.PriceUSD, 64)
		if err == nil && price > 0 {
			if pair.BaseToken.Symbol != "" {
				r.storeMeta(domain.TokenMeta{
					Mint:   mint,
					Symbol: pair.BaseToken.Symbol,
					Source: domain.MetaSourceDexScreener,
				})
			}
			return price, nil
		}
	}
	return 0, errNoQuote
}

// priceFromBirdeye resolves one mint through aggregator B.
func (r *Resolver) priceFromBirdeye(ctx context.Context, mint string) (float64, error) {
	if r.cfg.BirdeyeURL == "" {
		return 0, errNoQuote
	}
	if err := r.limits.Acquire(ctx, "birdeye"); err != nil {
		return 0, err
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Value float64 `json:"value"`
		} `json:"data"`
	}
	opts := &ratelimit.FetchOptions{}
	if r.cfg.BirdeyeAPIKey != "" {
		opts.Headers = map[string]string{"X-API-KEY": r.cfg.BirdeyeAPIKey}
	}
	u := r.cfg.BirdeyeURL + "/defi/price?address=" + url.QueryEscape(mint)
	start := r.now()
	err := ratelimit.FetchJSON(ctx, r.client, u, &resp, opts)
	r.recordOutcome(ProviderBirdeye, r.now().Sub(start), err)
	if err != nil {
		return 0, fmt.Errorf("birdeye: %w", err)
	}

	if !resp.Success || resp.Data.Value <= 0 {
		return 0, errNoQuote
	}
	return resp.Data.Value, nil
}

// priceFromCoinGecko resolves the network token only.
func (r *Resolver) priceFromCoinGecko(ctx context.Context) (float64, error) {
	if r.cfg.CoinGeckoURL == "" {
		return 0, errNoQuote
	}

	var resp map[string]map[string]float64
	u := r.cfg.CoinGeckoURL + "/api/v3/simple/price?ids=solana&vs_currencies=usd"
	start := r.now()
	err := ratelimit.FetchJSON(ctx, r.client, u, &resp, nil)
	r.recordOutcome(ProviderCoinGecko, r.now().Sub(start), err)
	if err != nil {
		return 0, fmt.Errorf("coingecko: %w", err)
	}

	price := resp["solana"]["usd"]
	if price <= 0 {
		return 0, errNoQuote
	}
	return price, nil
}

// metaFromProtocolAPI asks the DEX API, the most authoritative source
// for tokens in protocol pools.
func (r *Resolver) metaFromProtocolAPI(ctx context.Context, mint string) (*domain.TokenMeta, error) {
	if r.dex == nil {
		return nil, errNoQuote
	}
	start := r.now()
	asset, err := r.dex.Asset(ctx, mint)
	r.recordOutcome(ProviderProtocolAPI, r.now().Sub(start), err)
	if err != nil {
		return nil, err
	}
	if asset.Symbol == "" {
		return nil, errNoQuote
	}
	return &domain.TokenMeta{
		Mint:     mint,
		Symbol:   asset.Symbol,
		Name:     asset.Name,
		Decimals: asset.Decimals,
		Source:   domain.MetaSourceProtocolAPI,
	}, nil
}

// metaFromSolscan asks the explorer-style token meta endpoint.
func (r *Resolver) metaFromSolscan(ctx context.Context, mint string) (*domain.TokenMeta, error) {
	if r.cfg.SolscanURL == "" {
		return nil, errNoQuote
	}
	if err := r.limits.Acquire(ctx, "solscan"); err != nil {
		return nil, err
	}

	var resp struct {
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals int    `json:"decimals"`
	}
	u := r.cfg.SolscanURL + "/token/meta?tokenAddress=" + url.QueryEscape(mint)
	start := r.now()
	err := ratelimit.FetchJSON(ctx, r.client, u, &resp, nil)
	r.recordOutcome(ProviderSolscan, r.now().Sub(start), err)
	if err != nil {
		return nil, fmt.Errorf("solscan: %w", err)
	}

	if resp.Symbol == "" {
		return nil, errNoQuote
	}
	return &domain.TokenMeta{
		Mint:     mint,
		Symbol:   resp.Symbol,
		Name:     resp.Name,
		Decimals: resp.Decimals,
		Source:   domain.MetaSourceOnchain,
	}, nil
}

// metaFromDexScreener reuses the price call's symbol side channel.
func (r *Resolver) metaFromDexScreener(ctx context.Context, mint string) (*domain.TokenMeta, error) {
	if _, err := r.priceFromDexScreener(ctx, mint); err != nil {
		return nil, err
	}
	if meta, ok := r.meta.Get(mint); ok {
		return &meta, nil
	}
	return nil, errNoQuote
}

// metaFromAggregatorA resolves a single mint through the asset batch.
func (r *Resolver) metaFromAggregatorA(ctx context.Context, mint string) (*domain.TokenMeta, error) {
	r.refreshBatchAggregatorA(ctx, []string{mint})
	if meta, ok := r.meta.Get(mint); ok {
		return &meta, nil
	}
	return nil, errNoQuote
}
