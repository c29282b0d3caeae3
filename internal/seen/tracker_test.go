package seen

import (
	"context"
	"fmt"
	"testing"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/storage"
	"dlmm-tracker/internal/storage/memory"
)

func TestFirstSeen_DedupPerSource(t *testing.T) {
	tr := NewTracker(100, nil, nil)
	ctx := context.Background()

	if !tr.FirstSeen(ctx, "sig1", domain.AlertSourceDEX) {
		t.Fatal("first arrival must report true")
	}
	if tr.FirstSeen(ctx, "sig1", domain.AlertSourceDEX) {
		t.Fatal("second arrival must report false")
	}

	// The same signature is independent across sources.
	if !tr.FirstSeen(ctx, "sig1", domain.AlertSourceWallet) {
		t.Fatal("wallet set must not share state with the dex set")
	}
	if tr.FirstSeen(ctx, "sig1", domain.AlertSourceWallet) {
		t.Fatal("wallet duplicate must report false")
	}
}

func TestFirstSeen_EmptySignature(t *testing.T) {
	tr := NewTracker(100, nil, nil)
	if tr.FirstSeen(context.Background(), "", domain.AlertSourceDEX) {
		t.Fatal("empty signature must never be first")
	}
}

func TestOverflow_KeepsNewestHalf(t *testing.T) {
	tr := NewTracker(10, nil, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		tr.FirstSeen(ctx, fmt.Sprintf("sig%d", i), domain.AlertSourceDEX)
	}
	// The 11th insertion overflows: sig0..sig4 are dropped.
	tr.FirstSeen(ctx, "sig10", domain.AlertSourceDEX)

	for i := 0; i < 5; i++ {
		if tr.Contains(fmt.Sprintf("sig%d", i), domain.AlertSourceDEX) {
			t.Errorf("sig%d should have been dropped", i)
		}
	}
	for i := 5; i <= 10; i++ {
		if !tr.Contains(fmt.Sprintf("sig%d", i), domain.AlertSourceDEX) {
			t.Errorf("sig%d should have survived", i)
		}
	}

	dex, _ := tr.Sizes()
	if dex != 6 {
		t.Errorf("expected 6 live signatures, got %d", dex)
	}
}

func TestMirrorAndWarmStart(t *testing.T) {
	store := memory.NewSeenTxStore()
	ctx := context.Background()

	tr := NewTracker(100, store, nil)
	tr.FirstSeen(ctx, "sig1", domain.AlertSourceDEX)
	tr.FirstSeen(ctx, "sig2", domain.AlertSourceWallet)

	// A fresh tracker over the same store restores both sets.
	tr2 := NewTracker(100, store, nil)
	if err := tr2.WarmStart(ctx); err != nil {
		t.Fatalf("WarmStart failed: %v", err)
	}
	if tr2.FirstSeen(ctx, "sig1", domain.AlertSourceDEX) {
		t.Error("restored dex signature must not be first again")
	}
	if tr2.FirstSeen(ctx, "sig2", domain.AlertSourceWallet) {
		t.Error("restored wallet signature must not be first again")
	}
	if !tr2.FirstSeen(ctx, "sig3", domain.AlertSourceDEX) {
		t.Error("unseen signature must be first")
	}
}

func TestWarmStart_SkipsExpiredRows(t *testing.T) {
	store := memory.NewSeenTxStore()
	ctx := context.Background()

	store.Insert(ctx, storage.SeenTx{
		Signature: "ancient",
		Source:    domain.AlertSourceDEX,
		AddedAt:   time.Now().UTC().Add(-25 * time.Hour),
	})
	store.Insert(ctx, storage.SeenTx{
		Signature: "recent",
		Source:    domain.AlertSourceDEX,
		AddedAt:   time.Now().UTC().Add(-time.Hour),
	})

	tr := NewTracker(100, store, nil)
	if err := tr.WarmStart(ctx); err != nil {
		t.Fatalf("WarmStart failed: %v", err)
	}
	if tr.Contains("ancient", domain.AlertSourceDEX) {
		t.Error("rows past the horizon must not be restored")
	}
	if !tr.Contains("recent", domain.AlertSourceDEX) {
		t.Error("recent rows must be restored")
	}
}

func TestPrune(t *testing.T) {
	store := memory.NewSeenTxStore()
	ctx := context.Background()

	store.Insert(ctx, storage.SeenTx{
		Signature: "old",
		Source:    domain.AlertSourceDEX,
		AddedAt:   time.Now().UTC().Add(-25 * time.Hour),
	})
	tr := NewTracker(100, store, nil)
	tr.FirstSeen(ctx, "fresh", domain.AlertSourceDEX)

	removed, err := tr.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned row, got %d", removed)
	}
}
