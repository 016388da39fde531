package sqlite

import (
	"context"
	"sync"
)

// lockTable hands out exclusive per-key locks, the in-process equivalent of
// a database advisory lock keyed by a hash of the key.
//
// Each key maps to a one-slot channel; holding the slot means holding the
// lock. Entries are reference counted and removed when the last waiter
// leaves, so the table does not grow with the number of users ever seen.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	slot chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// acquire blocks until the lock for key is held or ctx is done. The returned
// release func must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{slot: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		t.drop(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.slot
			t.drop(key, l)
		})
	}, nil
}

func (t *lockTable) drop(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}
