// Package feeds owns the two long-lived WebSocket sessions: the DEX
// trade feed and the wallet log feed. Both reconnect with exponential
// backoff and hand raw messages to the ingestion pipeline.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/decoder"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/observability"
)

const (
	keepaliveInterval = 30 * time.Second
	maxReconnectDelay = 5 * time.Minute
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 10 * time.Second
)

// DEXAPI is the DEX API surface the feed needs: a connection ticket and
// the trade poll used by the backup path.
type DEXAPI interface {
	WSTicket(ctx context.Context) (string, error)
	Trades(ctx context.Context, pool string, limit int) ([]Trade, error)
}

// Trade mirrors dexapi.Trade to keep the feed decoupled from the client
// package's concrete type.
type Trade struct {
	Signature string
	Pool      string
	Wallet    string
	Side      string
	AmountUSD float64
	Timestamp time.Time
}

// PoolLister yields the pool ids the feed subscribes to.
type PoolLister interface {
	All() []*domain.Pool
	TopByVolume(n int) []*domain.Pool
}

// Handler consumes one raw feed message.
type Handler func(msg decoder.Message)

// DEXFeed streams pool trades from the DEX WebSocket.
type DEXFeed struct {
	cfg     *config.Config
	api     DEXAPI
	pools   PoolLister
	handler Handler
	logger  *log.Logger

	dial func(ctx context.Context, url string) (wsConn, error)

	mu         sync.Mutex
	conn       wsConn
	closedAt   time.Time
	subscribed map[string]bool
}

// wsConn is the subset of *websocket.Conn the feed drives, extracted for
// tests.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// DEXFeedOptions configures a DEXFeed.
type DEXFeedOptions struct {
	Config  *config.Config
	API     DEXAPI
	Pools   PoolLister
	Handler Handler
	Logger  *log.Logger
}

// NewDEXFeed creates the feed without connecting.
func NewDEXFeed(opts DEXFeedOptions) *DEXFeed {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	f := &DEXFeed{
		cfg:        opts.Config,
		api:        opts.API,
		pools:      opts.Pools,
		handler:    opts.Handler,
		logger:     logger,
		subscribed: make(map[string]bool),
		closedAt:   time.Now(),
	}
	f.dial = func(ctx context.Context, url string) (wsConn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		return conn, err
	}
	return f
}

// Run connects and reads until ctx ends, reconnecting after
// min(base x 2^attempts, 5 min). A successful open resets the counter.
func (f *DEXFeed) Run(ctx context.Context) {
	attempts := 0
	for ctx.Err() == nil {
		opened, err := f.session(ctx)
		if err != nil && ctx.Err() == nil {
			f.logger.Printf("[dexfeed] session ended: %v", err)
		}
		f.markClosed()
		if ctx.Err() != nil {
			return
		}

		if opened {
			attempts = 0
		}
		delay := f.cfg.WSReconnectBase << attempts
		if delay > maxReconnectDelay || delay <= 0 {
			delay = maxReconnectDelay
		}
		attempts++
		observability.RecordFeedReconnect("dex")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session opens one connection, subscribes every pool, and reads until
// the connection drops or ctx ends. Reports whether the open succeeded.
func (f *DEXFeed) session(ctx context.Context) (bool, error) {
	ticket, err := f.api.WSTicket(ctx)
	if err != nil {
		return false, fmt.Errorf("ticket: %w", err)
	}
	conn, err := f.dial(ctx, f.cfg.DEXWSURL+"?ticket="+ticket)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.closedAt = time.Time{}
	f.subscribed = make(map[string]bool)
	f.mu.Unlock()
	f.logger.Printf("[dexfeed] connected")

	f.subscribeAll()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go f.keepalive(pingCtx, conn)

	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		observability.DefaultMetrics.FeedMessages.WithLabelValues("dex").Inc()
		var msg decoder.Message
		if json.Unmarshal(payload, &msg) != nil {
			continue
		}
		if f.handler != nil {
			f.handler(msg)
		}
	}
}

// subscribeAll sends one subscribe frame per registry pool. A failed send
// drops the subscription silently; the next reconnect re-subscribes.
func (f *DEXFeed) subscribeAll() {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}

	count := 0
	for _, pool := range f.pools.All() {
		req := map[string]any{"type": "subscribe", "pool": pool.ID, "limit": 10}
		if err := conn.WriteJSON(req); err != nil {
			continue
		}
		f.mu.Lock()
		f.subscribed[pool.ID] = true
		f.mu.Unlock()
		count++
	}
	f.logger.Printf("[dexfeed] subscribed to %d pools", count)
}

// Resubscribe sends subscribe frames for pools added since the last
// snapshot refresh.
func (f *DEXFeed) Resubscribe() {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}
	for _, pool := range f.pools.All() {
		f.mu.Lock()
		done := f.subscribed[pool.ID]
		f.mu.Unlock()
		if done {
			continue
		}
		if err := conn.WriteJSON(map[string]any{"type": "subscribe", "pool": pool.ID, "limit": 10}); err != nil {
			continue
		}
		f.mu.Lock()
		f.subscribed[pool.ID] = true
		f.mu.Unlock()
	}
}

func (f *DEXFeed) keepalive(ctx context.Context, conn wsConn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		}
	}
}

func (f *DEXFeed) markClosed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	if f.closedAt.IsZero() {
		f.closedAt = time.Now()
	}
}

// Connected reports whether a session is currently open.
func (f *DEXFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

// ClosedFor returns how long the feed has been down; zero when connected.
func (f *DEXFeed) ClosedFor() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil || f.closedAt.IsZero() {
		return 0
	}
	return time.Since(f.closedAt)
}
