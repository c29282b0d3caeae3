// Package pools maintains the published snapshot of DLMM pools. A refresh
// builds a complete new snapshot and swaps it atomically; readers never
// see a partially updated registry.
package pools

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"dlmm-tracker/internal/dexapi"
	"dlmm-tracker/internal/domain"
)

// SymbolFn resolves a mint to a display symbol. May return a placeholder.
type SymbolFn func(mint string) string

// Registry holds the current pool snapshot.
type Registry struct {
	api         *dexapi.Client
	programID   string
	primaryMint string
	symbol      SymbolFn
	logger      *log.Logger

	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	pools     []*domain.Pool
	byID      map[string]*domain.Pool
	byToken   map[string][]*domain.Pool
	updatedAt time.Time
}

// Options configures Registry.
type Options struct {
	API *dexapi.Client
	// ProgramID is the on-chain DEX program address.
	ProgramID   string
	PrimaryMint string
	Symbol      SymbolFn
	Logger      *log.Logger
}

// NewRegistry creates an empty registry. Call Refresh to populate it.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		api:         opts.API,
		programID:   opts.ProgramID,
		primaryMint: opts.PrimaryMint,
		symbol:      opts.Symbol,
		logger:      opts.Logger,
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	r.snap.Store(&snapshot{
		byID:    make(map[string]*domain.Pool),
		byToken: make(map[string][]*domain.Pool),
	})
	return r
}

// Refresh fetches the pool listing and publishes a new snapshot. On
// upstream failure the previous snapshot stays in place.
func (r *Registry) Refresh(ctx context.Context) error {
	listing, err := r.api.Pools(ctx)
	if err != nil {
		return fmt.Errorf("refresh pools: %w", err)
	}

	next := &snapshot{
		byID:      make(map[string]*domain.Pool, len(listing)),
		byToken:   make(map[string][]*domain.Pool),
		updatedAt: time.Now().UTC(),
	}
	for _, info := range listing {
		// A published pool must carry an address and two distinct mints.
		if info.Address == "" || info.BaseMint == "" || info.QuoteMint == "" || info.BaseMint == info.QuoteMint {
			continue
		}
		pool := r.toPool(info)
		next.pools = append(next.pools, pool)
		next.byID[pool.ID] = pool
		next.byToken[pool.Base] = append(next.byToken[pool.Base], pool)
		next.byToken[pool.Quote] = append(next.byToken[pool.Quote], pool)
	}

	r.snap.Store(next)
	r.logger.Printf("[pools] snapshot refreshed: %d pools", len(next.pools))
	return nil
}

func (r *Registry) toPool(info dexapi.PoolInfo) *domain.Pool {
	pool := &domain.Pool{
		ID:           info.Address,
		Base:         info.BaseMint,
		Quote:        info.QuoteMint,
		LPMint:       info.LPMint,
		IsPrimary:    info.BaseMint == r.primaryMint || info.QuoteMint == r.primaryMint,
		Volume24hUSD: info.Volume24hUSD,
	}
	if info.TVLUSD > 0 {
		tvl := info.TVLUSD
		pool.TVLUSD = &tvl
	}
	if info.FeeBps > 0 {
		fee := info.FeeBps
		pool.FeeBps = &fee
	}
	if info.ProtocolFeeBps > 0 {
		fee := info.ProtocolFeeBps
		pool.ProtocolFeeBps = &fee
	}
	if info.SpotPriceUSD > 0 {
		price := info.SpotPriceUSD
		pool.SpotPrice = &price
	}
	if !info.CreatedAt.IsZero() {
		created := info.CreatedAt
		pool.CreatedAt = &created
	}

	base, quote := info.BaseSymbol, info.QuoteSymbol
	if base == "" && r.symbol != nil {
		base = r.symbol(info.BaseMint)
	}
	if quote == "" && r.symbol != nil {
		quote = r.symbol(info.QuoteMint)
	}
	if base != "" && quote != "" {
		pool.PairName = base + "/" + quote
	}
	return pool
}

// ByID returns the pool with the given address, or nil.
func (r *Registry) ByID(id string) *domain.Pool {
	return r.snap.Load().byID[id]
}

// FindByToken returns every pool whose base or quote is mint.
func (r *Registry) FindByToken(mint string) []*domain.Pool {
	return r.snap.Load().byToken[mint]
}

// IsDEXTransaction reports whether any account key is the DEX program
// itself or a known pool address.
func (r *Registry) IsDEXTransaction(accounts []string) bool {
	byID := r.snap.Load().byID
	for _, acc := range accounts {
		if acc == "" {
			continue
		}
		if r.programID != "" && acc == r.programID {
			return true
		}
		if _, ok := byID[acc]; ok {
			return true
		}
	}
	return false
}

// All returns every pool in the current snapshot.
func (r *Registry) All() []*domain.Pool {
	return r.snap.Load().pools
}

// Primary returns the pools involving the primary token.
func (r *Registry) Primary() []*domain.Pool {
	var out []*domain.Pool
	for _, p := range r.snap.Load().pools {
		if p.IsPrimary {
			out = append(out, p)
		}
	}
	return out
}

// TopByVolume returns up to n pools ordered by 24h volume descending.
func (r *Registry) TopByVolume(n int) []*domain.Pool {
	all := r.snap.Load().pools
	sorted := make([]*domain.Pool, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Volume24hUSD > sorted[j].Volume24hUSD
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// VolumePoints captures one observation per pool for the history archive.
func (r *Registry) VolumePoints(now time.Time) []domain.PoolVolumePoint {
	snap := r.snap.Load()
	points := make([]domain.PoolVolumePoint, 0, len(snap.pools))
	for _, p := range snap.pools {
		point := domain.PoolVolumePoint{
			PoolID:       p.ID,
			PairName:     p.PairName,
			Volume24hUSD: p.Volume24hUSD,
			CapturedAt:   now,
		}
		if p.TVLUSD != nil {
			point.TVLUSD = *p.TVLUSD
		}
		points = append(points, point)
	}
	return points
}

// UpdatedAt reports when the snapshot was last published.
func (r *Registry) UpdatedAt() time.Time {
	return r.snap.Load().updatedAt
}

// Len returns the number of pools in the snapshot.
func (r *Registry) Len() int {
	return len(r.snap.Load().pools)
}
