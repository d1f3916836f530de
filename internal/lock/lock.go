// Package lock guards work that must run on at most one instance at a time.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned by TryLock when the lock is held elsewhere.
var ErrLocked = errors.New("lock is held by another holder")

// Unlock releases a lock obtained from TryLock.
type Unlock func(ctx context.Context) error

// Locker is a non-blocking mutual exclusion lock.
type Locker interface {
	TryLock(ctx context.Context) (Unlock, error)
}

// Local is an in-process Locker for single-instance deployments.
type Local struct {
	mu sync.Mutex
}

// NewLocal creates a Local lock.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryLock(ctx context.Context) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}

var _ Locker = (*Local)(nil)
