package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// DefaultExpiry bounds how long a crashed holder can keep the lock.
const DefaultExpiry = 2 * time.Hour

// Redis is a Locker backed by a redsync mutex, shared by every instance
// pointed at the same Redis.
type Redis struct {
	rs     *redsync.Redsync
	name   string
	expiry time.Duration
}

// NewRedis creates a Redis lock with the given key name.
func NewRedis(client goredislib.UniversalClient, name string, expiry time.Duration) *Redis {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		name:   name,
		expiry: expiry,
	}
}

func (r *Redis) TryLock(ctx context.Context) (Unlock, error) {
	mutex := r.rs.NewMutex(r.name,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		if isTaken(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", r.name, err)
	}

	return func(ctx context.Context) error {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", r.name, err)
		}
		return nil
	}, nil
}

func isTaken(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}
	var nodeTaken *redsync.ErrNodeTaken
	return errors.As(err, &nodeTaken)
}

var _ Locker = (*Redis)(nil)
