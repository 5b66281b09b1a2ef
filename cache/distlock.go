package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// DefaultLockExpiry bounds how long a crashed holder can block a bucket.
const DefaultLockExpiry = 5 * time.Second

// LockService hands out redsync mutexes.
type LockService struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// NewLockService creates a lock service on a redis client.
func NewLockService(client redis.UniversalClient, expiry time.Duration) *LockService {
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}
	return &LockService{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
	}
}

// WithLock runs action while holding the named mutex.
func (s *LockService) WithLock(ctx context.Context, lockName string, action func() error) error {
	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(s.expiry),
		redsync.WithTries(32),
		redsync.WithRetryDelay(50*time.Millisecond),
		redsync.WithDriftFactor(0.01),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, lockName, err)
	}
	defer func() {
		// expiry releases the lock if unlock fails
		_, _ = mutex.UnlockContext(context.WithoutCancel(ctx))
	}()

	return action()
}

// BucketLockName is the mutex name guarding one bucket record.
func BucketLockName(pollID string, bucketIndex int) string {
	return fmt.Sprintf("lock:poll:%s:bucket:%d", pollID, bucketIndex)
}

// WithBucketLock serializes read-modify-write cycles on one bucket record.
func (s *LockService) WithBucketLock(ctx context.Context, pollID string, bucketIndex int, action func() error) error {
	return s.WithLock(ctx, BucketLockName(pollID, bucketIndex), action)
}
