package cache

import "errors"

var (
	// ErrRedisNotAvailable is returned when the redis server cannot be reached.
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired is returned when a bucket lock could not be taken.
	ErrLockNotAcquired = errors.New("could not acquire distributed lock")
)
