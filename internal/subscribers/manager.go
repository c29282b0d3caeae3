// Package subscribers owns the in-memory subscriber map. All mutations go
// through the manager, which synchronizes access and debounces writes to
// the durable store.
package subscribers

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
)

// Manager holds every subscriber and schedules debounced persistence.
type Manager struct {
	store    storage.SubscriberStore
	debounce time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu    sync.RWMutex
	subs  map[int64]*domain.Subscriber
	dirty map[int64]struct{}
}

// NewManager creates a manager backed by store.
func NewManager(store storage.SubscriberStore, debounce time.Duration, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:    store,
		debounce: debounce,
		logger:   logger,
		now:      time.Now,
		subs:     make(map[int64]*domain.Subscriber),
		dirty:    make(map[int64]struct{}),
	}
}

// Load populates the map from the durable store.
func (m *Manager) Load(ctx context.Context) error {
	all, err := m.store.GetAll(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range all {
		m.subs[sub.ChatID] = sub
	}
	m.logger.Printf("[subscribers] loaded %d subscribers", len(all))
	return nil
}

// Get returns a copy of the subscriber, if known.
func (m *Manager) Get(chatID int64) (*domain.Subscriber, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[chatID]
	if !ok {
		return nil, false
	}
	return sub.Clone(), true
}

// GetOrCreate returns a copy of the subscriber, creating it with default
// preferences on first contact.
func (m *Manager) GetOrCreate(chatID int64) *domain.Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[chatID]
	if !ok {
		sub = domain.NewSubscriber(chatID, m.now().UTC())
		m.subs[chatID] = sub
		m.dirty[chatID] = struct{}{}
	}
	return sub.Clone()
}

// Update applies fn to the subscriber under the manager lock and marks it
// for the next debounced flush. The subscriber is created if missing.
// Returns a copy of the post-mutation state.
func (m *Manager) Update(chatID int64, fn func(*domain.Subscriber)) *domain.Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[chatID]
	if !ok {
		sub = domain.NewSubscriber(chatID, m.now().UTC())
		m.subs[chatID] = sub
	}
	fn(sub)
	m.dirty[chatID] = struct{}{}
	return sub.Clone()
}

// ForEach calls fn for every subscriber under the read lock. fn must not
// mutate the subscriber or retain the pointer.
func (m *Manager) ForEach(fn func(*domain.Subscriber)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		fn(sub)
	}
}

// Count returns the number of known subscribers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// AllWallets returns the union of wallet subscriptions across subscribers,
// sorted for deterministic feed refreshes.
func (m *Manager) AllWallets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[string]struct{})
	for _, sub := range m.subs {
		for _, w := range sub.WalletSubscriptions {
			set[w] = struct{}{}
		}
	}
	wallets := make([]string, 0, len(set))
	for w := range set {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)
	return wallets
}

// DueForAutoSync returns chat ids active within activeWindow whose last
// portfolio sync is older than syncInterval.
func (m *Manager) DueForAutoSync(activeWindow, syncInterval time.Duration) []int64 {
	now := m.now().UTC()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []int64
	for _, sub := range m.subs {
		if len(sub.PortfolioWallets) == 0 {
			continue
		}
		if now.Sub(sub.LastActive) > activeWindow {
			continue
		}
		if sub.Portfolio != nil && now.Sub(sub.Portfolio.LastSync) < syncInterval {
			continue
		}
		due = append(due, sub.ChatID)
	}
	return due
}

// ResetDailyStats zeroes the per-day counters, typically after the digest.
func (m *Manager) ResetDailyStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for chatID, sub := range m.subs {
		if sub.DailyStats != (domain.Stats{}) {
			sub.DailyStats = domain.Stats{}
			m.dirty[chatID] = struct{}{}
		}
	}
}

// Run flushes dirty subscribers every debounce interval until ctx ends,
// then performs a final flush.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Flush(context.Background())
			return
		case <-ticker.C:
			m.Flush(ctx)
		}
	}
}

// Flush writes every dirty subscriber to the store. Failures keep the
// subscriber dirty so a later flush retries.
func (m *Manager) Flush(ctx context.Context) {
	m.mu.Lock()
	if len(m.dirty) == 0 {
		m.mu.Unlock()
		return
	}
	batch := make([]*domain.Subscriber, 0, len(m.dirty))
	ids := make([]int64, 0, len(m.dirty))
	for chatID := range m.dirty {
		if sub, ok := m.subs[chatID]; ok {
			batch = append(batch, sub.Clone())
			ids = append(ids, chatID)
		}
	}
	m.dirty = make(map[int64]struct{})
	m.mu.Unlock()

	var failed []int64
	for i, sub := range batch {
		if err := m.store.Upsert(ctx, sub); err != nil {
			m.logger.Printf("[subscribers] flush %d: %v", sub.ChatID, err)
			failed = append(failed, ids[i])
		}
	}
	if len(failed) > 0 {
		m.mu.Lock()
		for _, chatID := range failed {
			m.dirty[chatID] = struct{}{}
		}
		m.mu.Unlock()
	}
}
