package coin

import (
	"context"
	"sync"

	"github.com/sportcoin/coin-engine/generic"
)

// userLocks serializes writers per user within one process. Across
// processes the balance_version compare-and-bump is what serializes them.
type userLocks struct {
	mu    sync.Mutex
	locks map[generic.EntityID]*userLock
}

// userLock is a one-slot semaphore so waiting can be abandoned.
type userLock struct {
	slot chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[generic.EntityID]*userLock)}
}

// Lock waits until id is free and returns the unlock func. A caller still
// waiting when ctx is done gets a TransientError.
func (l *userLocks) Lock(ctx context.Context, id generic.EntityID) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[id]
	if !ok {
		ul = &userLock{slot: make(chan struct{}, 1)}
		l.locks[id] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.slot <- struct{}{}:
		return func() {
			<-ul.slot
			l.release(id, ul)
		}, nil
	case <-ctx.Done():
		l.release(id, ul)
		return nil, &generic.TransientError{Op: "wait for user " + string(id), Err: ctx.Err()}
	}
}

func (l *userLocks) release(id generic.EntityID, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, id)
	}
}
