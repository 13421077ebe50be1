package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedLocks_OppositeOrderDoesNotDeadlock(t *testing.T) {
	k := newKeyedLocks()
	var wg sync.WaitGroup
	const n = 500
	wg.Add(2 * n)
	for range n {
		go func() {
			defer wg.Done()
			unlock := k.Lock(1, 2)
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := k.Lock(2, 1)
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}

	if k.size() != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", k.size())
	}
}

func TestKeyedLocks_DuplicateIDs(t *testing.T) {
	k := newKeyedLocks()
	unlock := k.Lock(3, 3)
	if k.size() != 1 {
		t.Fatalf("size = %d, want 1", k.size())
	}
	unlock()
	if k.size() != 0 {
		t.Fatalf("size = %d, want 0", k.size())
	}
}
