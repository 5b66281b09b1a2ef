package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"chatpoll-backend/cache"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keys of the delayed job queue.
const (
	DueJobsKey        = "poll_jobs:due"  // sorted set, member = handle, score = fire time (ms)
	JobDataKey        = "poll_jobs:data" // hash, field = handle, value = JSON job
	DeadLetterJobsKey = "poll_jobs:dead" // list of jobs that ran out of retries
)

const dueBatchSize = 100

// RedisScheduler is a delayed job queue on a redis sorted set. Any number of
// processes may poll the same queue: a job is claimed by whoever removes it
// from the sorted set first, so it runs once per claim.
type RedisScheduler struct {
	client       cache.RedisClient
	logger       *slog.Logger
	pollInterval time.Duration
	retryDelay   time.Duration
	maxRetries   int

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewRedisScheduler creates a scheduler. Call Start to begin running due jobs.
func NewRedisScheduler(client cache.RedisClient, pollInterval time.Duration, logger *slog.Logger) *RedisScheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RedisScheduler{
		client:       client,
		logger:       logger,
		pollInterval: pollInterval,
		retryDelay:   30 * time.Second,
		maxRetries:   3,
	}
}

// Schedule implements service.Scheduler.
func (r *RedisScheduler) Schedule(ctx context.Context, fireAt time.Time, job Job) (string, error) {
	if job.Handle == "" {
		job.Handle = uuid.NewString()
	}
	job.FireAt = fireAt.UnixMilli()
	if err := r.enqueue(ctx, job); err != nil {
		return "", err
	}
	return job.Handle, nil
}

func (r *RedisScheduler) enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	// data first, so a claimed handle always has a payload
	if err := r.client.HSet(ctx, JobDataKey, job.Handle, data).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", job.Handle, err)
	}
	if err := r.client.ZAdd(ctx, DueJobsKey, redis.Z{Score: float64(job.FireAt), Member: job.Handle}).Err(); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Handle, err)
	}
	return nil
}

// Cancel implements service.Scheduler.
func (r *RedisScheduler) Cancel(ctx context.Context, handle string) error {
	removed, err := r.client.ZRem(ctx, DueJobsKey, handle).Result()
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", handle, err)
	}
	if removed == 0 {
		return ErrJobNotFound
	}
	if err := r.client.HDel(ctx, JobDataKey, handle).Err(); err != nil {
		r.logger.Warn("failed to remove cancelled job payload", "handle", handle, "error", err)
	}
	return nil
}

// Start runs due jobs with handler until Stop is called or ctx is done.
func (r *RedisScheduler) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("job handler not set")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return nil
	}
	r.isRunning = true
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.consumeLoop(ctx, handler)

	r.logger.Info("redis scheduler started", "poll_interval", r.pollInterval)
	return nil
}

// Stop waits for the consume loop to exit.
func (r *RedisScheduler) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	close(r.stopChan)
	r.isRunning = false
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("redis scheduler stopped")
}

func (r *RedisScheduler) consumeLoop(ctx context.Context, handler Handler) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunDue(ctx, time.Now(), handler); err != nil {
				r.logger.Error("failed to poll due jobs", "error", err)
			}
		}
	}
}

// RunDue claims and runs every job due at or before now and returns how many
// it ran.
func (r *RedisScheduler) RunDue(ctx context.Context, now time.Time, handler Handler) (int, error) {
	handles, err := r.client.ZRangeByScore(ctx, DueJobsKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: dueBatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list due jobs: %w", err)
	}

	ran := 0
	for _, handle := range handles {
		claimed, err := r.client.ZRem(ctx, DueJobsKey, handle).Result()
		if err != nil {
			r.logger.Error("failed to claim job", "handle", handle, "error", err)
			continue
		}
		if claimed == 0 {
			// another worker got it, or it was cancelled
			continue
		}

		job, err := r.takePayload(ctx, handle)
		if err != nil {
			r.logger.Error("failed to load job payload", "handle", handle, "error", err)
			continue
		}

		r.process(ctx, job, handler)
		ran++
	}
	return ran, nil
}

func (r *RedisScheduler) takePayload(ctx context.Context, handle string) (Job, error) {
	var job Job
	raw, err := r.client.HGet(ctx, JobDataKey, handle).Result()
	if err != nil {
		return job, err
	}
	if err := r.client.HDel(ctx, JobDataKey, handle).Err(); err != nil {
		r.logger.Warn("failed to remove job payload", "handle", handle, "error", err)
	}
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		_ = r.client.LPush(ctx, DeadLetterJobsKey, raw).Err()
		return job, fmt.Errorf("decode job %s: %w", handle, err)
	}
	return job, nil
}

func (r *RedisScheduler) process(ctx context.Context, job Job, handler Handler) {
	r.logger.Debug("running job", "handle", job.Handle, "kind", job.Kind, "poll_id", job.PollID)

	err := handler(ctx, job)
	if err == nil {
		return
	}

	if job.Retries >= r.maxRetries {
		r.logger.Error("job failed, moving to dead letter queue",
			"handle", job.Handle, "kind", job.Kind, "poll_id", job.PollID, "error", err)
		data, _ := json.Marshal(job)
		if err := r.client.LPush(ctx, DeadLetterJobsKey, data).Err(); err != nil {
			r.logger.Error("failed to dead-letter job", "handle", job.Handle, "error", err)
		}
		return
	}

	job.Retries++
	job.FireAt = time.Now().Add(r.retryDelay).UnixMilli()
	r.logger.Warn("job failed, retrying",
		"handle", job.Handle, "kind", job.Kind, "retries", job.Retries, "error", err)
	if err := r.enqueue(ctx, job); err != nil {
		r.logger.Error("failed to requeue job", "handle", job.Handle, "error", err)
	}
}
