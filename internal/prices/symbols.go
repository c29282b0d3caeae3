package prices

import (
	"context"
	"strings"
	"time"

	"dlmm-tracker/internal/domain"
)

// lookupTimeout bounds one async metadata resolution.
const lookupTimeout = 15 * time.Second

// Symbol returns the cached symbol for a mint. On a miss it returns a
// short-form placeholder immediately and schedules an async lookup;
// concurrent lookups for the same mint coalesce.
func (r *Resolver) Symbol(mint string) string {
	if meta, ok := r.meta.Get(mint); ok && meta.Symbol != "" {
		return meta.Symbol
	}
	r.scheduleLookup(mint)
	return ShortMint(mint)
}

// Meta returns the cached metadata for a mint, if resolved.
func (r *Resolver) Meta(mint string) (domain.TokenMeta, bool) {
	return r.meta.Get(mint)
}

func (r *Resolver) storeMeta(meta domain.TokenMeta) {
	// First resolved symbol wins; later providers never downgrade it.
	if existing, ok := r.meta.Get(meta.Mint); ok && existing.Symbol != "" {
		if meta.Decimals > 0 && existing.Decimals == 0 {
			existing.Decimals = meta.Decimals
			r.meta.Set(meta.Mint, existing)
		}
		return
	}
	r.meta.Set(meta.Mint, meta)
}

func (r *Resolver) scheduleLookup(mint string) {
	r.inflightMu.Lock()
	if _, busy := r.inflight[mint]; busy {
		r.inflightMu.Unlock()
		return
	}
	r.inflight[mint] = struct{}{}
	r.inflightMu.Unlock()

	go func() {
		defer func() {
			r.inflightMu.Lock()
			delete(r.inflight, mint)
			r.inflightMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()
		r.lookupMeta(ctx, mint)
	}()
}

// lookupMeta walks the metadata provider chain. First non-empty symbol
// wins and stays cached until eviction.
func (r *Resolver) lookupMeta(ctx context.Context, mint string) {
	if meta, err := r.metaFromProtocolAPI(ctx, mint); err == nil {
		r.storeMeta(*meta)
		return
	}
	if meta, err := r.metaFromSolscan(ctx, mint); err == nil {
		r.storeMeta(*meta)
		return
	}
	if meta, err := r.metaFromDexScreener(ctx, mint); err == nil {
		r.storeMeta(*meta)
		return
	}
	if meta, err := r.metaFromAggregatorA(ctx, mint); err == nil {
		r.storeMeta(*meta)
		return
	}
	r.logger.Printf("[prices] symbol lookup failed for %s", mint)
}

// ShortMint renders the placeholder form of an address.
func ShortMint(mint string) string {
	if len(mint) <= 9 {
		return mint
	}
	return mint[:4] + "…" + mint[len(mint)-4:]
}

// markdownSpecials are the characters the chat platform's markdown
// dialect treats as control characters.
const markdownSpecials = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdown escapes a symbol for safe interpolation into messages.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 && strings.ContainsRune(markdownSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
