// Package seen tracks already-alerted transaction signatures. Two disjoint
// sets back the two alert classes: a signature may alert once as a pool
// trade and once as a wallet movement. Insertions mirror to a durable
// store so a restart does not re-alert inside the 24-h horizon.
package seen

import (
	"context"
	"log"
	"sync"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// Horizon is how long a signature suppresses duplicate alerts.
const Horizon = 24 * time.Hour

// Tracker owns the dedup sets.
type Tracker struct {
	mu     sync.Mutex
	dex    *cappedSet
	wallet *cappedSet

	store  storage.SeenTxStore
	logger *log.Logger
	now    func() time.Time
}

// NewTracker creates a tracker whose sets hold up to capacity signatures
// each. store may be nil; dedup is then purely in-memory.
func NewTracker(capacity int, store storage.SeenTxStore, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		dex:    newCappedSet(capacity),
		wallet: newCappedSet(capacity),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// FirstSeen records the signature for the given source and reports whether
// this is its first arrival. On a first arrival the signature is written
// to the durable store before returning, so a concurrent duplicate cannot
// slip past a crash between dedup and fan-out.
func (t *Tracker) FirstSeen(ctx context.Context, sig string, source domain.AlertSource) bool {
	if sig == "" {
		return false
	}

	t.mu.Lock()
	first := t.setFor(source).add(sig)
	t.mu.Unlock()
	if !first {
		return false
	}

	if t.store != nil {
		err := t.store.Insert(ctx, storage.SeenTx{
			Signature: sig,
			Source:    source,
			AddedAt:   t.now().UTC(),
		})
		if err != nil {
			t.logger.Printf("[seen] persist %s/%s: %v", source, sig, err)
		}
	}
	return true
}

// Contains reports whether the signature was already seen for the source.
func (t *Tracker) Contains(sig string, source domain.AlertSource) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setFor(source).contains(sig)
}

// WarmStart reloads the last 24 h of signatures from the durable store.
func (t *Tracker) WarmStart(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	rows, err := t.store.LoadSince(ctx, t.now().UTC().Add(-Horizon))
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		t.setFor(row.Source).add(row.Signature)
	}
	t.logger.Printf("[seen] warm start: %d signatures restored", len(rows))
	return nil
}

// Prune removes durable rows older than the horizon.
func (t *Tracker) Prune(ctx context.Context) (int64, error) {
	if t.store == nil {
		return 0, nil
	}
	return t.store.DeleteOlderThan(ctx, t.now().UTC().Add(-Horizon))
}

// Sizes returns the current set sizes, for diagnostics.
func (t *Tracker) Sizes() (dex, wallet int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dex.items), len(t.wallet.items)
}

func (t *Tracker) setFor(source domain.AlertSource) *cappedSet {
	if source == domain.AlertSourceWallet {
		return t.wallet
	}
	return t.dex
}

// cappedSet is an insertion-ordered set; overflowing drops the oldest
// half so recent signatures always survive.
type cappedSet struct {
	capacity int
	items    map[string]struct{}
	order    []string
}

func newCappedSet(capacity int) *cappedSet {
	return &cappedSet{
		capacity: capacity,
		items:    make(map[string]struct{}),
	}
}

// add inserts sig and reports whether it was absent.
func (s *cappedSet) add(sig string) bool {
	if _, ok := s.items[sig]; ok {
		return false
	}
	if len(s.items) >= s.capacity {
		s.dropOldestHalf()
	}
	s.items[sig] = struct{}{}
	s.order = append(s.order, sig)
	return true
}

func (s *cappedSet) contains(sig string) bool {
	_, ok := s.items[sig]
	return ok
}

func (s *cappedSet) dropOldestHalf() {
	keep := len(s.order) / 2
	drop := s.order[:len(s.order)-keep]
	for _, sig := range drop {
		delete(s.items, sig)
	}
	kept := make([]string, keep)
	copy(kept, s.order[len(s.order)-keep:])
	s.order = kept
}
