package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestCache_TTLExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", "1")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss past TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired read must remove entry, len=%d", c.Len())
	}
}

func TestCache_EvictsOldestInsertion(t *testing.T) {
	c := New[int](3, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Reading "a" must not protect it: eviction is by insertion order.
	c.Get("a")

	c.Set("d", 4)

	if _, ok := c.Get("a"); ok {
		t.Error("oldest insertion 'a' should have been evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %q to survive", k)
		}
	}
}

func TestCache_ResetCountsAsNewInsertion(t *testing.T) {
	c := New[int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // re-insert: "b" is now oldest
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("'b' should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Errorf("expected a=10, got %d %v", v, ok)
	}
}

func TestCache_Prune(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[int](100, time.Minute)
	c.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("old%d", i), i)
	}
	now = now.Add(30 * time.Second)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("new%d", i), i)
	}
	now = now.Add(45 * time.Second)

	removed := c.Prune()
	if removed != 5 {
		t.Errorf("expected 5 pruned, got %d", removed)
	}
	if c.Len() != 5 {
		t.Errorf("expected 5 remaining, got %d", c.Len())
	}
	if _, ok := c.Get("new0"); !ok {
		t.Error("fresh entry must survive prune")
	}
}
