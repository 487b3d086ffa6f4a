// Package lock serialises read-modify-write cycles per record key, so the
// callback path and the sweep never interleave on the same record.
package lock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on key. The returned context is derived
// from ctx and is cancelled once the lock is released or can no longer be
// guaranteed; writes made under the lock must use it. The returned func
// releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (context.Context, func(), error)
}

func TransactionKey(reference string) string { return "txn:" + reference }

func EntitlementKey(buyerID, email string) string { return "ent:" + buyerID + ":" + email }

// MemoryLocker is a per-key mutex for a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, nil, ctx.Err()
	}

	held, cancel := context.WithCancel(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel()
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
