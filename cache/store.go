package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"chatpoll-backend/models"
	"chatpoll-backend/repository"

	"github.com/redis/go-redis/v9"
)

const (
	pollKeyPrefix   = "poll:"
	statusKeyPrefix = "polls:"
	settingsKey     = "poll_settings:global"
)

func pollKey(id string) string {
	return pollKeyPrefix + id
}

func bucketsKey(pollID string) string {
	return pollKeyPrefix + pollID + ":buckets"
}

func statusKey(status models.PollStatus) string {
	return statusKeyPrefix + string(status)
}

var pollStatuses = []models.PollStatus{models.PollStatusOpen, models.PollStatusClosed}

// RedisStore is a repository.Store on redis.
//
// Layout:
//
//	poll:<id>            JSON poll record
//	poll:<id>:buckets    hash, field = bucket index, value = JSON bucket record
//	polls:<status>       set of poll ids with that status
//	poll_settings:global JSON settings record
type RedisStore struct {
	client RedisClient
}

var _ repository.Store = (*RedisStore)(nil)

// NewRedisStore creates a store on an existing client. Close closes the client.
func NewRedisStore(client RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

// GetPoll implements repository.PollStore.
func (s *RedisStore) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	raw, err := s.client.Get(ctx, pollKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get poll %s: %w", id, err)
	}

	var poll models.Poll
	if err := json.Unmarshal([]byte(raw), &poll); err != nil {
		return nil, fmt.Errorf("decode poll %s: %w", id, err)
	}
	return &poll, nil
}

// PutPoll implements repository.PollStore. The status index is updated after
// the record is written.
func (s *RedisStore) PutPoll(ctx context.Context, poll *models.Poll) error {
	now := time.Now()
	if poll.CreatedAt.IsZero() {
		poll.CreatedAt = now
	}
	poll.UpdatedAt = now

	data, err := json.Marshal(poll)
	if err != nil {
		return fmt.Errorf("encode poll %s: %w", poll.ID, err)
	}
	if err := s.client.Set(ctx, pollKey(poll.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("put poll %s: %w", poll.ID, err)
	}

	for _, status := range pollStatuses {
		if status == poll.Status {
			continue
		}
		if err := s.client.SRem(ctx, statusKey(status), poll.ID).Err(); err != nil {
			return fmt.Errorf("unindex poll %s: %w", poll.ID, err)
		}
	}
	if err := s.client.SAdd(ctx, statusKey(poll.Status), poll.ID).Err(); err != nil {
		return fmt.Errorf("index poll %s: %w", poll.ID, err)
	}
	return nil
}

// DeletePoll implements repository.PollStore. Bucket records are left alone.
func (s *RedisStore) DeletePoll(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, pollKey(id)).Err(); err != nil {
		return fmt.Errorf("delete poll %s: %w", id, err)
	}
	for _, status := range pollStatuses {
		if err := s.client.SRem(ctx, statusKey(status), id).Err(); err != nil {
			return fmt.Errorf("unindex poll %s: %w", id, err)
		}
	}
	return nil
}

// QueryPollsByStatus implements repository.PollStore. Ids left in the index
// by a half-finished write are skipped.
func (s *RedisStore) QueryPollsByStatus(ctx context.Context, status models.PollStatus) ([]*models.Poll, error) {
	ids, err := s.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("query polls by status %s: %w", status, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = pollKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load polls by status %s: %w", status, err)
	}

	polls := make([]*models.Poll, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var poll models.Poll
		if err := json.Unmarshal([]byte(raw), &poll); err != nil {
			return nil, fmt.Errorf("decode poll %s: %w", ids[i], err)
		}
		if poll.Status != status {
			continue
		}
		polls = append(polls, &poll)
	}
	return polls, nil
}

// GetBucket implements repository.BucketStore.
func (s *RedisStore) GetBucket(ctx context.Context, pollID string, bucketIndex int) (*models.VoteBucket, error) {
	raw, err := s.client.HGet(ctx, bucketsKey(pollID), strconv.Itoa(bucketIndex)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket %s: %w", models.BucketKey(pollID, bucketIndex), err)
	}

	var bucket models.VoteBucket
	if err := json.Unmarshal([]byte(raw), &bucket); err != nil {
		return nil, fmt.Errorf("decode bucket %s: %w", models.BucketKey(pollID, bucketIndex), err)
	}
	return &bucket, nil
}

// PutBucket implements repository.BucketStore.
func (s *RedisStore) PutBucket(ctx context.Context, bucket *models.VoteBucket) error {
	bucket.ID = models.BucketKey(bucket.PollID, bucket.BucketIndex)
	bucket.UpdatedAt = time.Now()

	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("encode bucket %s: %w", bucket.ID, err)
	}
	err = s.client.HSet(ctx, bucketsKey(bucket.PollID), strconv.Itoa(bucket.BucketIndex), data).Err()
	if err != nil {
		return fmt.Errorf("put bucket %s: %w", bucket.ID, err)
	}
	return nil
}

// DeleteBucket implements repository.BucketStore.
func (s *RedisStore) DeleteBucket(ctx context.Context, pollID string, bucketIndex int) error {
	if err := s.client.HDel(ctx, bucketsKey(pollID), strconv.Itoa(bucketIndex)).Err(); err != nil {
		return fmt.Errorf("delete bucket %s: %w", models.BucketKey(pollID, bucketIndex), err)
	}
	return nil
}

// QueryBuckets implements repository.BucketStore.
func (s *RedisStore) QueryBuckets(ctx context.Context, pollID string) ([]*models.VoteBucket, error) {
	fields, err := s.client.HGetAll(ctx, bucketsKey(pollID)).Result()
	if err != nil {
		return nil, fmt.Errorf("query buckets of poll %s: %w", pollID, err)
	}

	buckets := make([]*models.VoteBucket, 0, len(fields))
	for field, raw := range fields {
		var bucket models.VoteBucket
		if err := json.Unmarshal([]byte(raw), &bucket); err != nil {
			return nil, fmt.Errorf("decode bucket %s_%s: %w", pollID, field, err)
		}
		buckets = append(buckets, &bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].BucketIndex < buckets[j].BucketIndex })
	return buckets, nil
}

// GetSettings implements repository.SettingsStore.
func (s *RedisStore) GetSettings(ctx context.Context) (*models.GlobalSettings, error) {
	raw, err := s.client.Get(ctx, settingsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get global settings: %w", err)
	}

	var settings models.GlobalSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("decode global settings: %w", err)
	}
	return &settings, nil
}

// PutSettings implements repository.SettingsStore.
func (s *RedisStore) PutSettings(ctx context.Context, settings *models.GlobalSettings) error {
	settings.ID = models.GlobalSettingsID
	settings.UpdatedAt = time.Now()

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode global settings: %w", err)
	}
	if err := s.client.Set(ctx, settingsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("put global settings: %w", err)
	}
	return nil
}

// Close implements repository.Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
