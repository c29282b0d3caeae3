package feeds

import (
	"fmt"
	"sync"
	"testing"
)

type walletList struct {
	mu      sync.Mutex
	wallets []string
}

func (w *walletList) get() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.wallets...)
}

func (w *walletList) set(wallets ...string) {
	w.mu.Lock()
	w.wallets = wallets
	w.mu.Unlock()
}

func newWalletFeedForTest(list *walletList, handler WalletHandler) (*WalletFeed, *fakeConn) {
	cfg := feedConfig()
	cfg.RPCWSEndpoint = "wss://rpc.example"
	feed := NewWalletFeed(WalletFeedOptions{
		Config:  cfg,
		Wallets: list.get,
		Handler: handler,
	})
	conn := newFakeConn()
	feed.conn = conn
	return feed, conn
}

func TestWalletFeed_RefreshSendsDeltasOnly(t *testing.T) {
	list := &walletList{}
	list.set("W1", "W2")
	feed, conn := newWalletFeedForTest(list, nil)

	feed.Refresh()
	if frames := conn.frames(); len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}

	// A second refresh with one new wallet sends exactly one frame.
	list.set("W1", "W2", "W3")
	feed.Refresh()
	frames := conn.frames()
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3 after delta refresh", len(frames))
	}
	last := frames[2]
	if last["method"] != "logsSubscribe" {
		t.Fatalf("method = %v", last["method"])
	}
	params := last["params"].([]any)
	mentions := params[0].(map[string]any)["mentions"].([]any)
	if len(mentions) != 1 || mentions[0] != "W3" {
		t.Fatalf("mentions = %v", mentions)
	}
}

func TestWalletFeed_NotificationDispatch(t *testing.T) {
	list := &walletList{}
	list.set("W1")

	type delivery struct {
		wallet, sig string
	}
	got := make(chan delivery, 10)
	feed, conn := newWalletFeedForTest(list, func(wallet, sig string, _ []string) {
		got <- delivery{wallet, sig}
	})

	feed.Refresh()
	reqID := conn.frames()[0]["id"].(float64)

	// Confirm the subscription, then notify on it.
	feed.handleFrame([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":77}`, int(reqID))))
	feed.handleFrame([]byte(`{"method":"logsNotification","params":{"subscription":77,"result":{"value":{"signature":"sig9","logs":["a"],"err":null}}}}`))

	select {
	case d := <-got:
		if d.wallet != "W1" || d.sig != "sig9" {
			t.Fatalf("delivered %+v", d)
		}
	default:
		t.Fatal("notification not dispatched")
	}
}

func TestWalletFeed_RemovedWalletFiltered(t *testing.T) {
	list := &walletList{}
	list.set("W1")

	got := make(chan string, 10)
	feed, conn := newWalletFeedForTest(list, func(wallet, _ string, _ []string) {
		got <- wallet
	})

	feed.Refresh()
	reqID := conn.frames()[0]["id"].(float64)
	feed.handleFrame([]byte(fmt.Sprintf(`{"id":%d,"result":5}`, int(reqID))))

	// The wallet is dropped by every subscriber; the provider-side
	// subscription survives but the consumer filters it.
	list.set()
	feed.handleFrame([]byte(`{"method":"logsNotification","params":{"subscription":5,"result":{"value":{"signature":"sigX","logs":[],"err":null}}}}`))

	select {
	case w := <-got:
		t.Fatalf("removed wallet %q still dispatched", w)
	default:
	}
}

func TestWalletFeed_FailedTxDropped(t *testing.T) {
	list := &walletList{}
	list.set("W1")

	got := make(chan string, 1)
	feed, conn := newWalletFeedForTest(list, func(_, sig string, _ []string) {
		got <- sig
	})
	feed.Refresh()
	reqID := conn.frames()[0]["id"].(float64)
	feed.handleFrame([]byte(fmt.Sprintf(`{"id":%d,"result":6}`, int(reqID))))

	feed.handleFrame([]byte(`{"method":"logsNotification","params":{"subscription":6,"result":{"value":{"signature":"bad","logs":[],"err":{"InstructionError":[0,"Custom"]}}}}}`))
	select {
	case sig := <-got:
		t.Fatalf("failed transaction %q dispatched", sig)
	default:
	}
}
