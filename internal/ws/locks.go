package ws

import (
	"context"
	"sync"
)

// keyedMutex serialises work per conversation. Entries are freed when the
// last holder or waiter releases.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int]*refLock
}

// refLock is a one-slot semaphore so waiters can give up on ctx.
type refLock struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int]*refLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key int) func() {
	unlock, _ := k.LockContext(context.Background(), key)
	return unlock
}

// LockContext waits for key until ctx is done. On error nothing is held.
func (k *keyedMutex) LockContext(ctx context.Context, key int) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
	return func() {
		<-l.sem
		k.release(key, l)
	}, nil
}

func (k *keyedMutex) release(key int, l *refLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
