// Package prices resolves USD prices and token metadata for mints through
// an ordered provider chain, tracking per-provider health so a failing
// upstream degrades to the next one instead of stalling the pipeline.
package prices

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"dlmm-tracker/internal/cache"
	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/dexapi"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/observability"
	"dlmm-tracker/internal/ratelimit"
)

// Provider names used for health tracking and rate limiting.
const (
	ProviderAggregatorA = "aggregator_a"
	ProviderDexScreener = "dexscreener"
	ProviderBirdeye     = "birdeye"
	ProviderCoinGecko   = "coingecko"
	ProviderProtocolAPI = "protocol_api"
	ProviderSolscan     = "solscan"
)

// metaCacheCap bounds the token metadata cache independently of the
// price cache; metadata is cached until eviction, never by TTL.
const metaCacheCap = 50000

// Resolver serves prices and symbols from caches backed by the chain.
type Resolver struct {
	cfg    *config.Config
	dex    *dexapi.Client
	client *http.Client
	limits *ratelimit.Registry
	logger *log.Logger

	prices *cache.Cache[domain.PriceEntry]
	meta   *cache.Cache[domain.TokenMeta]

	healthMu sync.Mutex
	health   map[string]*domain.APIHealth

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	now func() time.Time
}

// Options configures Resolver.
type Options struct {
	Config *config.Config
	DEX    *dexapi.Client
	Client *http.Client
	Limits *ratelimit.Registry
	Logger *log.Logger
}

// NewResolver creates a resolver with empty caches.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		cfg:      opts.Config,
		dex:      opts.DEX,
		client:   opts.Client,
		limits:   opts.Limits,
		logger:   opts.Logger,
		prices:   cache.New[domain.PriceEntry](opts.Config.MaxCacheSize, 2*opts.Config.PriceRefresh),
		meta:     cache.New[domain.TokenMeta](metaCacheCap, 0),
		health:   make(map[string]*domain.APIHealth),
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	if r.limits == nil {
		r.limits = ratelimit.NewRegistry()
	}
	return r
}

// Price returns the USD price for a mint. Stablecoins resolve to 1.0
// without lookup. Returns false when the mint is unknown and every
// provider failed or has no quote.
func (r *Resolver) Price(ctx context.Context, mint string) (float64, bool) {
	if r.cfg.IsStable(mint) {
		return 1.0, true
	}
	if entry, ok := r.prices.Get(mint); ok {
		e := entry
		if e.Usable(r.now(), r.cfg.PriceRefresh) {
			return e.PriceUSD, true
		}
	}
	entry, err := r.resolveOne(ctx, mint)
	if err != nil {
		return 0, false
	}
	r.prices.Set(mint, *entry)
	return entry.PriceUSD, true
}

// PrimaryTokenPrice is shorthand for the primary token's price.
func (r *Resolver) PrimaryTokenPrice(ctx context.Context) (float64, bool) {
	return r.Price(ctx, r.cfg.PrimaryTokenMint)
}

// NetworkTokenPrice is shorthand for the wrapped network token's price.
func (r *Resolver) NetworkTokenPrice(ctx context.Context) (float64, bool) {
	return r.Price(ctx, config.WSOLMint)
}

// RefreshAll runs one bulk refresh cycle over the given mints. Providers
// are tried in a fixed order; the cycle stops once the primary token has
// a fresh quote. Stablecoins are skipped.
func (r *Resolver) RefreshAll(ctx context.Context, mints []string) {
	wanted := make([]string, 0, len(mints))
	seen := make(map[string]bool, len(mints))
	for _, mint := range mints {
		if mint == "" || seen[mint] || r.cfg.IsStable(mint) {
			continue
		}
		seen[mint] = true
		wanted = append(wanted, mint)
	}
	if len(wanted) == 0 {
		return
	}

	resolved := r.refreshBatchAggregatorA(ctx, wanted)
	if resolved[r.cfg.PrimaryTokenMint] {
		return
	}

	// Single-mint fallbacks for whatever the batch missed, primary first.
	ordered := make([]string, 0, len(wanted))
	if seen[r.cfg.PrimaryTokenMint] && !resolved[r.cfg.PrimaryTokenMint] {
		ordered = append(ordered, r.cfg.PrimaryTokenMint)
	}
	for _, mint := range wanted {
		if mint != r.cfg.PrimaryTokenMint && !resolved[mint] {
			ordered = append(ordered, mint)
		}
	}
	for _, mint := range ordered {
		entry, err := r.resolveOne(ctx, mint)
		if err != nil {
			continue
		}
		r.prices.Set(mint, *entry)
	}
}

// resolveOne walks the single-mint provider chain.
func (r *Resolver) resolveOne(ctx context.Context, mint string) (*domain.PriceEntry, error) {
	if price, err := r.priceFromDexScreener(ctx, mint); err == nil {
		return r.entry(mint, price, ProviderDexScreener), nil
	}
	if price, err := r.priceFromBirdeye(ctx, mint); err == nil {
		return r.entry(mint, price, ProviderBirdeye), nil
	}
	if mint == config.WSOLMint {
		if price, err := r.priceFromCoinGecko(ctx); err == nil {
			return r.entry(mint, price, ProviderCoinGecko), nil
		}
	}
	return nil, errNoQuote
}

func (r *Resolver) entry(mint string, price float64, source string) *domain.PriceEntry {
	return &domain.PriceEntry{
		Mint:      mint,
		PriceUSD:  price,
		UpdatedAt: r.now(),
		Source:    source,
	}
}

// SetPrice injects a price observed out of band, e.g. from a pool's
// listed spot price during registry refresh.
func (r *Resolver) SetPrice(mint string, price float64, source string) {
	r.prices.Set(mint, *r.entry(mint, price, source))
}

// Health returns a copy of the per-provider health map.
func (r *Resolver) Health() map[string]domain.APIHealth {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	out := make(map[string]domain.APIHealth, len(r.health))
	for name, h := range r.health {
		out[name] = *h
	}
	return out
}

// Prune sweeps expired price entries.
func (r *Resolver) Prune() int {
	return r.prices.Prune() + r.meta.Prune()
}

// recordOutcome folds one provider call into the rolling health state and
// the request metrics.
func (r *Resolver) recordOutcome(provider string, elapsed time.Duration, err error) {
	observability.RecordProviderRequest(provider, elapsed.Seconds(), err)
	if err != nil {
		r.recordFailure(provider)
		return
	}
	r.recordSuccess(provider)
}

func (r *Resolver) recordSuccess(provider string) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	r.healthFor(provider).RecordSuccess(r.now())
}

func (r *Resolver) recordFailure(provider string) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	h := r.healthFor(provider)
	h.RecordFailure(r.now())
	if h.Status == domain.HealthDown {
		r.logger.Printf("[prices] provider %s is down after %d consecutive failures", provider, h.ConsecutiveFailures)
	}
}

func (r *Resolver) healthFor(provider string) *domain.APIHealth {
	h, ok := r.health[provider]
	if !ok {
		h = &domain.APIHealth{Status: domain.HealthUnknown}
		r.health[provider] = h
	}
	return h
}
