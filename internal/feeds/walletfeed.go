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
	"dlmm-tracker/internal/observability"
)

// WalletHandler consumes one log notification for a tracked wallet.
type WalletHandler func(wallet, signature string, logs []string)

// WalletFeed subscribes to program logs mentioning each tracked wallet
// over an RPC WebSocket. The provider has no per-mention unsubscribe, so
// removed wallets stay subscribed until the next reconnect and are
// filtered here before dispatch.
type WalletFeed struct {
	cfg     *config.Config
	wallets func() []string
	handler WalletHandler
	logger  *log.Logger

	dial func(ctx context.Context, url string) (wsConn, error)

	mu      sync.Mutex
	conn    wsConn
	current map[string]bool   // wallets subscribed on this connection
	pending map[uint64]string // request id -> wallet awaiting confirmation
	subs    map[int64]string  // subscription id -> wallet
	reqID   uint64
}

// WalletFeedOptions configures a WalletFeed.
type WalletFeedOptions struct {
	Config *config.Config
	// Wallets returns the union of tracked wallets across subscribers.
	Wallets func() []string
	Handler WalletHandler
	Logger  *log.Logger
}

// NewWalletFeed creates the feed without connecting.
func NewWalletFeed(opts WalletFeedOptions) *WalletFeed {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	f := &WalletFeed{
		cfg:     opts.Config,
		wallets: opts.Wallets,
		handler: opts.Handler,
		logger:  logger,
		current: make(map[string]bool),
		pending: make(map[uint64]string),
		subs:    make(map[int64]string),
	}
	f.dial = func(ctx context.Context, url string) (wsConn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		return conn, err
	}
	return f
}

// Run connects and reads until ctx ends, with the same backoff policy as
// the DEX feed. Every successful open reinitializes all subscriptions.
func (f *WalletFeed) Run(ctx context.Context) {
	attempts := 0
	for ctx.Err() == nil {
		opened, err := f.session(ctx)
		if err != nil && ctx.Err() == nil {
			f.logger.Printf("[walletfeed] session ended: %v", err)
		}
		f.closeConn()
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
		observability.RecordFeedReconnect("wallet")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (f *WalletFeed) session(ctx context.Context) (bool, error) {
	conn, err := f.dial(ctx, f.cfg.RPCWSEndpoint)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.current = make(map[string]bool)
	f.pending = make(map[uint64]string)
	f.subs = make(map[int64]string)
	f.mu.Unlock()
	f.logger.Printf("[walletfeed] connected")

	f.Refresh()

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
		observability.DefaultMetrics.FeedMessages.WithLabelValues("wallet").Inc()
		f.handleFrame(payload)
	}
}

// Refresh sends logsSubscribe for wallets not yet subscribed on the
// current connection. Removed wallets are only dropped from the filter;
// their provider-side subscription dies with the connection.
func (f *WalletFeed) Refresh() {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}

	added := 0
	for _, wallet := range f.wallets() {
		f.mu.Lock()
		already := f.current[wallet]
		f.mu.Unlock()
		if already {
			continue
		}
		if err := f.subscribe(conn, wallet); err != nil {
			f.logger.Printf("[walletfeed] subscribe %s: %v", wallet, err)
			continue
		}
		added++
	}
	if added > 0 {
		f.logger.Printf("[walletfeed] subscribed %d wallets", added)
	}
}

func (f *WalletFeed) subscribe(conn wsConn, wallet string) error {
	f.mu.Lock()
	f.reqID++
	id := f.reqID
	f.pending[id] = wallet
	f.current[wallet] = true
	f.mu.Unlock()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{wallet}},
			map[string]string{"commitment": "confirmed"},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		f.mu.Lock()
		delete(f.pending, id)
		delete(f.current, wallet)
		f.mu.Unlock()
		return err
	}
	return nil
}

// handleFrame routes subscription confirmations and log notifications.
func (f *WalletFeed) handleFrame(payload []byte) {
	var confirm struct {
		ID     uint64 `json:"id"`
		Result int64  `json:"result"`
	}
	if json.Unmarshal(payload, &confirm) == nil && confirm.ID > 0 && confirm.Result > 0 {
		f.mu.Lock()
		if wallet, ok := f.pending[confirm.ID]; ok {
			delete(f.pending, confirm.ID)
			f.subs[confirm.Result] = wallet
		}
		f.mu.Unlock()
		return
	}

	var notif struct {
		Method string `json:"method"`
		Params struct {
			Subscription int64 `json:"subscription"`
			Result       struct {
				Value struct {
					Signature string   `json:"signature"`
					Logs      []string `json:"logs"`
					Err       any      `json:"err"`
				} `json:"value"`
			} `json:"result"`
		} `json:"params"`
	}
	if json.Unmarshal(payload, &notif) != nil || notif.Method != "logsNotification" {
		return
	}
	if notif.Params.Result.Value.Err != nil {
		return
	}

	f.mu.Lock()
	wallet, ok := f.subs[notif.Params.Subscription]
	f.mu.Unlock()
	if !ok {
		return
	}
	// Consumer-side filter: drop wallets no longer tracked by anyone.
	if !f.stillTracked(wallet) {
		return
	}
	if f.handler != nil {
		f.handler(wallet, notif.Params.Result.Value.Signature, notif.Params.Result.Value.Logs)
	}
}

func (f *WalletFeed) stillTracked(wallet string) bool {
	for _, w := range f.wallets() {
		if w == wallet {
			return true
		}
	}
	return false
}

func (f *WalletFeed) keepalive(ctx context.Context, conn wsConn) {
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

func (f *WalletFeed) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// Connected reports whether a session is currently open.
func (f *WalletFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}
