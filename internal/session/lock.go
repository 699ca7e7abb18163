package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Lock names used by the chat layer.
const (
	LockSend    = "send"
	LockReceive = "receive"
	LockTyping  = "typing"
)

// Lock is a context aware mutex.
type Lock struct {
	sem *semaphore.Weighted
}

func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the lock and always releases it.
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	return fn(ctx)
}

type Locks struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*Lock)}
}

func (l *Locks) Get(name string) *Lock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[name]
	if !ok {
		lock = NewLock()
		l.locks[name] = lock
	}
	return lock
}
