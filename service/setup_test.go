package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatpoll-backend/models"
	"chatpoll-backend/mq"
	"chatpoll-backend/repository"

	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	mu          sync.Mutex
	next        int
	jobs        map[string]mq.Job
	fireAt      map[string]time.Time
	cancels     []string
	scheduleErr error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]mq.Job), fireAt: make(map[string]time.Time)}
}

func (f *fakeScheduler) Schedule(ctx context.Context, fireAt time.Time, job mq.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.next++
	if job.Handle == "" {
		job.Handle = fmt.Sprintf("job-%d", f.next)
	}
	job.FireAt = fireAt.UnixMilli()
	f.jobs[job.Handle] = job
	f.fireAt[job.Handle] = fireAt
	return job.Handle, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, handle)
	if _, ok := f.jobs[handle]; !ok {
		return mq.ErrJobNotFound
	}
	delete(f.jobs, handle)
	return nil
}

// take removes a job as if it fired.
func (f *fakeScheduler) take(handle string) mq.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[handle]
	delete(f.jobs, handle)
	return job
}

func (f *fakeScheduler) jobsOfKind(kind mq.JobKind) []mq.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []mq.Job
	for _, job := range f.jobs {
		if job.Kind == kind {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (f *fakeScheduler) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels)
}

type post struct {
	recipient string
	content   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	posts []post
	err   error
}

func (f *fakeNotifier) PostSummary(ctx context.Context, recipientID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, post{recipientID, content})
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

// hookStore wraps a store to inject failures and interleavings.
type hookStore struct {
	repository.Store
	beforeGetPoll   func(id string)
	putBucketErr    error
	deleteBucketErr error
}

func (h *hookStore) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	if h.beforeGetPoll != nil {
		h.beforeGetPoll(id)
	}
	return h.Store.GetPoll(ctx, id)
}

func (h *hookStore) PutBucket(ctx context.Context, bucket *models.VoteBucket) error {
	if h.putBucketErr != nil {
		return h.putBucketErr
	}
	return h.Store.PutBucket(ctx, bucket)
}

func (h *hookStore) DeleteBucket(ctx context.Context, pollID string, bucketIndex int) error {
	if h.deleteBucketErr != nil {
		return h.deleteBucketErr
	}
	return h.Store.DeleteBucket(ctx, pollID, bucketIndex)
}

var errStoreDown = errors.New("store down")

type testEnv struct {
	store     *hookStore
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	svc       *PollService
	now       time.Time
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     &hookStore{Store: repository.NewMemoryStore()},
		scheduler: newFakeScheduler(),
		notifier:  &fakeNotifier{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return env.now })}, opts...)
	env.svc = NewPollService(env.store, env.scheduler, env.notifier, logger, opts...)
	return env
}

func (e *testEnv) createPoll(t *testing.T, mutate func(in *CreatePollInput)) *models.Poll {
	t.Helper()
	in := CreatePollInput{
		Title:     "Favourite colour?",
		CreatorID: "UCREATOR",
		Options:   []string{"Red", "Blue"},
		CloseAt:   e.now.Add(time.Hour),
	}
	if mutate != nil {
		mutate(&in)
	}
	poll, err := e.svc.CreatePoll(context.Background(), in)
	require.NoError(t, err)
	return poll
}
