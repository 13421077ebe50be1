package cache

import (
	"testing"
	"time"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be cached")
	}
	c.Set("c", 3) // b is now least recently used

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	if st := c.Stats(); st.Evictions != 1 || st.Size != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestLRUCache_TTL(t *testing.T) {
	c := NewLRUCache[string](10, time.Second)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	now = now.Add(2 * time.Second)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to expire")
	}

	c.Set("x", "1")
	c.Set("y", "2")
	now = now.Add(2 * time.Second)
	if removed := c.CleanExpired(); removed != 2 {
		t.Errorf("CleanExpired() = %d, want 2", removed)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestManager_Sweep(t *testing.T) {
	var swept int
	m := NewManager(func(removed int) { swept = removed })
	c := NewLRUCache[int](10, -time.Second) // everything is already expired
	c.Set("a", 1)
	m.Register(c)

	if got := m.Sweep(); got != 1 || swept != 1 {
		t.Errorf("Sweep() = %d (callback %d), want 1", got, swept)
	}
}
