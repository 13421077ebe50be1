package ledger

import (
	"slices"
	"sync"
)

// keyedLocks hands out one mutex per envelope id. Entries are reference
// counted and dropped when the last holder releases them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[int64]*lockEntry)}
}

// Lock acquires the locks for ids in ascending order, so two transfers over
// the same pair in opposite directions cannot deadlock. The returned func
// releases them.
func (k *keyedLocks) Lock(ids ...int64) (unlock func()) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*lockEntry, 0, len(ids))
	for _, id := range ids {
		e := k.acquire(id)
		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.release(ids[i])
		}
	}
}

func (k *keyedLocks) acquire(id int64) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[id]
	if !ok {
		e = &lockEntry{}
		k.locks[id] = e
	}
	e.refs++
	return e
}

func (k *keyedLocks) release(id int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.locks[id]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, id)
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
