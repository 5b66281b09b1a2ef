package database

import (
	"context"
	"errors"
	"fmt"

	"chatpoll-backend/models"
	"chatpoll-backend/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is a repository.Store backed by gorm. Every Put is a single upsert
// statement; nothing runs in a transaction.
type Store struct {
	db *gorm.DB
}

var _ repository.Store = (*Store)(nil)

// NewStore wraps an open, migrated connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}

var upsertAll = clause.OnConflict{UpdateAll: true}

// GetPoll implements repository.PollStore.
func (s *Store) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	var poll models.Poll
	if err := s.db.WithContext(ctx).First(&poll, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &poll, nil
}

// PutPoll implements repository.PollStore.
func (s *Store) PutPoll(ctx context.Context, poll *models.Poll) error {
	if err := s.db.WithContext(ctx).Clauses(upsertAll).Create(poll).Error; err != nil {
		return fmt.Errorf("upsert poll %s: %w", poll.ID, err)
	}
	return nil
}

// DeletePoll implements repository.PollStore.
func (s *Store) DeletePoll(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.Poll{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete poll %s: %w", id, err)
	}
	return nil
}

// QueryPollsByStatus implements repository.PollStore.
func (s *Store) QueryPollsByStatus(ctx context.Context, status models.PollStatus) ([]*models.Poll, error) {
	var polls []*models.Poll
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id").
		Find(&polls).Error
	if err != nil {
		return nil, fmt.Errorf("query polls by status %s: %w", status, err)
	}
	return polls, nil
}

// GetBucket implements repository.BucketStore.
func (s *Store) GetBucket(ctx context.Context, pollID string, bucketIndex int) (*models.VoteBucket, error) {
	var bucket models.VoteBucket
	err := s.db.WithContext(ctx).First(&bucket, "id = ?", models.BucketKey(pollID, bucketIndex)).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &bucket, nil
}

// PutBucket implements repository.BucketStore.
func (s *Store) PutBucket(ctx context.Context, bucket *models.VoteBucket) error {
	bucket.ID = models.BucketKey(bucket.PollID, bucket.BucketIndex)
	if err := s.db.WithContext(ctx).Clauses(upsertAll).Create(bucket).Error; err != nil {
		return fmt.Errorf("upsert bucket %s: %w", bucket.ID, err)
	}
	return nil
}

// DeleteBucket implements repository.BucketStore.
func (s *Store) DeleteBucket(ctx context.Context, pollID string, bucketIndex int) error {
	id := models.BucketKey(pollID, bucketIndex)
	if err := s.db.WithContext(ctx).Delete(&models.VoteBucket{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete bucket %s: %w", id, err)
	}
	return nil
}

// QueryBuckets implements repository.BucketStore.
func (s *Store) QueryBuckets(ctx context.Context, pollID string) ([]*models.VoteBucket, error) {
	var buckets []*models.VoteBucket
	err := s.db.WithContext(ctx).
		Where("poll_id = ?", pollID).
		Order("bucket_index").
		Find(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("query buckets of poll %s: %w", pollID, err)
	}
	return buckets, nil
}

// GetSettings implements repository.SettingsStore.
func (s *Store) GetSettings(ctx context.Context) (*models.GlobalSettings, error) {
	var settings models.GlobalSettings
	err := s.db.WithContext(ctx).First(&settings, "id = ?", models.GlobalSettingsID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &settings, nil
}

// PutSettings implements repository.SettingsStore.
func (s *Store) PutSettings(ctx context.Context, settings *models.GlobalSettings) error {
	settings.ID = models.GlobalSettingsID
	if err := s.db.WithContext(ctx).Clauses(upsertAll).Create(settings).Error; err != nil {
		return fmt.Errorf("upsert global settings: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
