package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEvery_RunsAndStops(t *testing.T) {
	s := New(nil)
	var runs int32
	s.Every("tick", 10*time.Millisecond, func(context.Context) {
		atomic.AddInt32(&runs, 1)
	})

	time.Sleep(55 * time.Millisecond)
	if !s.Stop() {
		t.Fatal("Stop reported forced shutdown")
	}

	got := atomic.LoadInt32(&runs)
	if got < 3 {
		t.Fatalf("runs = %d, want at least 3", got)
	}

	time.Sleep(30 * time.Millisecond)
	if after := atomic.LoadInt32(&runs); after != got {
		t.Fatalf("job ran after Stop: %d -> %d", got, after)
	}
}

func TestCancel_StopsOnlyNamedJob(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var a, b int32
	s.Every("a", 10*time.Millisecond, func(context.Context) { atomic.AddInt32(&a, 1) })
	s.Every("b", 10*time.Millisecond, func(context.Context) { atomic.AddInt32(&b, 1) })

	s.Cancel("a")
	time.Sleep(50 * time.Millisecond)

	if got := atomic.LoadInt32(&a); got != 0 {
		t.Fatalf("cancelled job ran %d times", got)
	}
	if atomic.LoadInt32(&b) < 3 {
		t.Fatal("surviving job did not keep running")
	}
}

func TestRun_RecoverPanic(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var after int32
	s.Every("panicky", 10*time.Millisecond, func(context.Context) {
		if atomic.AddInt32(&after, 1) == 1 {
			panic("boom")
		}
	})

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&after) < 2 {
		t.Fatal("job did not survive its own panic")
	}
}

func TestUntilNext(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

	if d := untilNext(now, 9, 0); d != 30*time.Minute {
		t.Fatalf("same-day wait = %s, want 30m", d)
	}
	// Time already past today rolls to tomorrow.
	if d := untilNext(now, 3, 0); d != 18*time.Hour+30*time.Minute {
		t.Fatalf("next-day wait = %s", d)
	}
	// Exactly now rolls to tomorrow, not zero.
	if d := untilNext(now, 8, 30); d != 24*time.Hour {
		t.Fatalf("boundary wait = %s, want 24h", d)
	}
}
