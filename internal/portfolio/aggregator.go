package portfolio

import (
	"context"
	"fmt"
	"net/http"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/ratelimit"
)

// AggregatorPnlFetcher builds the default PnlFetcher against the wallet
// aggregator's net-worth endpoint. Returns nil PnL without error when the
// aggregator has no data for the wallet.
func AggregatorPnlFetcher(cfg *config.Config, client *http.Client, limits *ratelimit.Registry) PnlFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, wallet string) (*AggregatorPnl, error) {
		if cfg.BirdeyeAPIKey == "" {
			return nil, nil
		}
		if limits != nil {
			if err := limits.Acquire(ctx, "birdeye"); err != nil {
				return nil, err
			}
		}

		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				NetWorth      float64 `json:"net_worth"`
				RealizedPnl   float64 `json:"realized_pnl"`
				UnrealizedPnl float64 `json:"unrealized_pnl"`
			} `json:"data"`
		}
		url := fmt.Sprintf("%s/v1/wallet/pnl?wallet=%s", cfg.BirdeyeURL, wallet)
		err := ratelimit.FetchJSON(ctx, client, url, &resp, &ratelimit.FetchOptions{
			Headers: map[string]string{"X-API-KEY": cfg.BirdeyeAPIKey},
		})
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, nil
		}
		return &AggregatorPnl{
			RealizedUSD:   resp.Data.RealizedPnl,
			UnrealizedUSD: resp.Data.UnrealizedPnl,
			NetWorthUSD:   resp.Data.NetWorth,
		}, nil
	}
}
