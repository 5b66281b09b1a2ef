package repository

import (
	"context"
	"errors"

	"chatpoll-backend/models"
)

// ErrNotFound is returned by Get methods when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// PollStore is the "polls" collection, keyed by poll id and indexed by status.
type PollStore interface {
	GetPoll(ctx context.Context, id string) (*models.Poll, error)
	PutPoll(ctx context.Context, poll *models.Poll) error
	DeletePoll(ctx context.Context, id string) error
	QueryPollsByStatus(ctx context.Context, status models.PollStatus) ([]*models.Poll, error)
}

// BucketStore is the "vote_buckets" collection, keyed by (poll id, bucket
// index) and indexed by poll id.
type BucketStore interface {
	GetBucket(ctx context.Context, pollID string, bucketIndex int) (*models.VoteBucket, error)
	PutBucket(ctx context.Context, bucket *models.VoteBucket) error
	DeleteBucket(ctx context.Context, pollID string, bucketIndex int) error
	QueryBuckets(ctx context.Context, pollID string) ([]*models.VoteBucket, error)
}

// SettingsStore holds the single global settings record.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.GlobalSettings, error)
	PutSettings(ctx context.Context, settings *models.GlobalSettings) error
}

// Store is the key-value backend the poll service runs on. Puts are upserts.
// Implementations offer no transactions, atomic increments or compare-and-swap,
// and callers must not rely on any.
type Store interface {
	PollStore
	BucketStore
	SettingsStore
	Close() error
}
