package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"chatpoll-backend/models"
)

// MemoryStore is an in-process Store. Records are copied on the way in and out
// so callers never share state with the store, like a remote backend.
type MemoryStore struct {
	mu       sync.RWMutex
	polls    map[string]models.Poll
	buckets  map[string]models.VoteBucket
	settings *models.GlobalSettings
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		polls:   make(map[string]models.Poll),
		buckets: make(map[string]models.VoteBucket),
	}
}

func copyPoll(p models.Poll) *models.Poll {
	p.Options = slices.Clone(p.Options)
	if p.ClosedAt != nil {
		closedAt := *p.ClosedAt
		p.ClosedAt = &closedAt
	}
	return &p
}

// GetPoll implements PollStore.
func (s *MemoryStore) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	poll, ok := s.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPoll(poll), nil
}

// PutPoll implements PollStore.
func (s *MemoryStore) PutPoll(ctx context.Context, poll *models.Poll) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = now
	}
	poll.UpdatedAt = now
	s.polls[poll.ID] = *copyPoll(*poll)
	return nil
}

// DeletePoll implements PollStore. Deleting a missing poll is not an error.
func (s *MemoryStore) DeletePoll(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.polls, id)
	return nil
}

// QueryPollsByStatus implements PollStore. Results are ordered by id.
func (s *MemoryStore) QueryPollsByStatus(ctx context.Context, status models.PollStatus) ([]*models.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var polls []*models.Poll
	for _, poll := range s.polls {
		if poll.Status == status {
			polls = append(polls, copyPoll(poll))
		}
	}
	sort.Slice(polls, func(i, j int) bool { return polls[i].ID < polls[j].ID })
	return polls, nil
}

// GetBucket implements BucketStore.
func (s *MemoryStore) GetBucket(ctx context.Context, pollID string, bucketIndex int) (*models.VoteBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.buckets[models.BucketKey(pollID, bucketIndex)]
	if !ok {
		return nil, ErrNotFound
	}
	return &bucket, nil
}

// PutBucket implements BucketStore.
func (s *MemoryStore) PutBucket(ctx context.Context, bucket *models.VoteBucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket.ID = models.BucketKey(bucket.PollID, bucket.BucketIndex)
	bucket.UpdatedAt = time.Now()
	s.buckets[bucket.ID] = *bucket
	return nil
}

// DeleteBucket implements BucketStore.
func (s *MemoryStore) DeleteBucket(ctx context.Context, pollID string, bucketIndex int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buckets, models.BucketKey(pollID, bucketIndex))
	return nil
}

// QueryBuckets implements BucketStore. Results are ordered by bucket index.
func (s *MemoryStore) QueryBuckets(ctx context.Context, pollID string) ([]*models.VoteBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var buckets []*models.VoteBucket
	for _, bucket := range s.buckets {
		if bucket.PollID == pollID {
			b := bucket
			buckets = append(buckets, &b)
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].BucketIndex < buckets[j].BucketIndex })
	return buckets, nil
}

// GetSettings implements SettingsStore.
func (s *MemoryStore) GetSettings(ctx context.Context) (*models.GlobalSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, ErrNotFound
	}
	settings := *s.settings
	return &settings, nil
}

// PutSettings implements SettingsStore.
func (s *MemoryStore) PutSettings(ctx context.Context, settings *models.GlobalSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.ID = models.GlobalSettingsID
	settings.UpdatedAt = time.Now()
	stored := *settings
	s.settings = &stored
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
