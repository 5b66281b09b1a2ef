package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"chatpoll-backend/ledger"
	"chatpoll-backend/models"
	"chatpoll-backend/mq"
	"chatpoll-backend/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePoll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	poll := env.createPoll(t, func(in *CreatePollInput) {
		in.Title = "  Lunch?  "
		in.Options = []string{" Pizza ", "", "Sushi"}
		in.OptionsText = "Tacos\n\n  Curry  \n"
		in.Visibility = models.Visibility{NamesAfter: models.VisibleToCreator}
	})

	assert.NotEmpty(t, poll.ID)
	assert.Equal(t, "Lunch?", poll.Title)
	assert.Equal(t, []string{"Pizza", "Sushi", "Tacos", "Curry"}, poll.Options)
	assert.Equal(t, models.PollStatusOpen, poll.Status)
	assert.Equal(t, models.VisibleToCreator, poll.Visibility.NamesAfter)
	assert.Equal(t, models.VisibleToEveryone, poll.Visibility.CountsDuring)

	stored, err := env.store.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.SchedulerHandle, stored.SchedulerHandle)

	closeJobs := env.scheduler.jobsOfKind(mq.JobClosePoll)
	require.Len(t, closeJobs, 1)
	assert.Equal(t, poll.ID, closeJobs[0].PollID)
	assert.Equal(t, poll.SchedulerHandle, closeJobs[0].Handle)
	assert.Equal(t, env.now.Add(time.Hour), env.scheduler.fireAt[poll.SchedulerHandle])

	settings, err := env.store.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.SweepInstalled)
	assert.Len(t, env.scheduler.jobsOfKind(mq.JobSweep), 1)
}

func TestCreatePoll_Validation(t *testing.T) {
	manyOptions := func(n int) []string {
		options := make([]string, n)
		for i := range options {
			options[i] = fmt.Sprintf("Option %d", i+1)
		}
		return options
	}

	tests := []struct {
		name   string
		mutate func(in *CreatePollInput)
		field  string
	}{
		{"missing topic", func(in *CreatePollInput) { in.Title = "   " }, "title"},
		{"missing creator", func(in *CreatePollInput) { in.CreatorID = "" }, "creator_id"},
		{"no options", func(in *CreatePollInput) { in.Options = []string{" ", ""} }, "options"},
		{"47 options", func(in *CreatePollInput) { in.Options = manyOptions(47) }, "options"},
		{"51 options", func(in *CreatePollInput) { in.Options = manyOptions(51) }, "options"},
		{"close time in the past", func(in *CreatePollInput) { in.CloseAt = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }, "close_at"},
		{"close time missing", func(in *CreatePollInput) { in.CloseAt = time.Time{} }, "close_at"},
		{"unknown visibility", func(in *CreatePollInput) { in.Visibility.CountsAfter = "friends" }, "visibility"},
		{"negative vote limit", func(in *CreatePollInput) { in.MaxVotesPerUser = -1 }, "max_votes_per_user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			in := CreatePollInput{
				Title:     "Favourite colour?",
				CreatorID: "UCREATOR",
				Options:   []string{"Red", "Blue"},
				CloseAt:   env.now.Add(time.Hour),
			}
			tt.mutate(&in)

			poll, err := env.svc.CreatePoll(ctx, in)
			assert.Nil(t, poll)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)

			// nothing was written or scheduled
			open, err := env.store.QueryPollsByStatus(ctx, models.PollStatusOpen)
			require.NoError(t, err)
			assert.Empty(t, open)
			assert.Empty(t, env.scheduler.jobs)
			_, err = env.store.GetSettings(ctx)
			assert.ErrorIs(t, err, repository.ErrNotFound)
		})
	}
}

func TestCreatePoll_MaxOptionsAccepted(t *testing.T) {
	env := newTestEnv(t)
	options := make([]string, models.MaxOptions)
	for i := range options {
		options[i] = fmt.Sprintf("Option %d", i+1)
	}
	poll := env.createPoll(t, func(in *CreatePollInput) { in.Options = options })
	assert.Len(t, poll.Options, models.MaxOptions)
}

func TestCreatePoll_SchedulerDown(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.scheduleErr = fmt.Errorf("scheduler down")

	poll := env.createPoll(t, nil)
	assert.Empty(t, poll.SchedulerHandle)

	// still usable, and closable by hand
	_, err := env.svc.CastVote(context.Background(), poll.ID, "U1", 1)
	require.NoError(t, err)
	view, err := env.svc.ClosePoll(context.Background(), poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusClosed, view.Status)
	assert.Equal(t, 0, env.scheduler.cancelCount())
}

func optionVoters(view *PollView, idx int) []string {
	return view.Options[idx-1].Voters
}

func TestVote_LimitScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, func(in *CreatePollInput) { in.MaxVotesPerUser = 1 })

	res, err := env.svc.CastVote(ctx, poll.ID, "U1", 1)
	require.NoError(t, err)
	assert.Equal(t, "You voted for: Red", res.Message)
	assert.Equal(t, []string{"U1"}, optionVoters(res.View, 1))
	assert.Equal(t, 1, *res.View.TotalVotes)

	_, err = env.svc.CastVote(ctx, poll.ID, "U1", 2)
	assert.ErrorIs(t, err, ErrVoteLimitReached)

	view, err := env.svc.ViewPoll(ctx, poll.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, optionVoters(view, 1))
	assert.Empty(t, optionVoters(view, 2))
	assert.Equal(t, 1, *view.TotalVotes)

	res, err = env.svc.RetractVote(ctx, poll.ID, "U1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Vote removed for: Red", res.Message)
	assert.Equal(t, 0, *res.View.TotalVotes)

	res, err = env.svc.CastVote(ctx, poll.ID, "U1", 2)
	require.NoError(t, err)
	assert.Empty(t, optionVoters(res.View, 1))
	assert.Equal(t, []string{"U1"}, optionVoters(res.View, 2))
	assert.Equal(t, 1, *res.View.TotalVotes)
	assert.Equal(t, []int{2}, res.View.MyVotes)
}

func TestToggleVote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, nil)

	res, err := env.svc.ToggleVote(ctx, poll.ID, "U1", 2)
	require.NoError(t, err)
	assert.True(t, res.Voted)
	assert.True(t, res.Changed)
	assert.Equal(t, "You voted for: Blue", res.Message)

	res, err = env.svc.ToggleVote(ctx, poll.ID, "U1", 2)
	require.NoError(t, err)
	assert.False(t, res.Voted)
	assert.True(t, res.Changed)
	assert.Equal(t, "Vote removed for: Blue", res.Message)

	votes, err := env.svc.MyVotes(ctx, poll.ID, "U1")
	require.NoError(t, err)
	assert.Empty(t, votes)
}

func TestCastVote_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, nil)

	_, err := env.svc.CastVote(ctx, poll.ID, "U1", 1)
	require.NoError(t, err)
	res, err := env.svc.CastVote(ctx, poll.ID, "U1", 1)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, []string{"U1"}, optionVoters(res.View, 1))

	bucket, err := env.store.GetBucket(ctx, poll.ID, ledger.Bucket("U1"))
	require.NoError(t, err)
	assert.Equal(t, "U1", bucket.Encoding)
}

func TestVote_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, nil)

	_, err := env.svc.CastVote(ctx, "missing", "U1", 1)
	assert.ErrorIs(t, err, ErrPollNotFound)

	_, err = env.svc.CastVote(ctx, poll.ID, "U1", 0)
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = env.svc.CastVote(ctx, poll.ID, "U1", 3)
	assert.ErrorIs(t, err, ErrInvalidOption)

	var verr *ValidationError
	_, err = env.svc.CastVote(ctx, poll.ID, " ", 1)
	assert.ErrorAs(t, err, &verr)
}

func TestVote_RejectsSeparatorsInVoterID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, func(in *CreatePollInput) { in.MaxVotesPerUser = 1 })

	for _, voterID := range []string{"U9,U2", "X|U3", ",", "|"} {
		for i := 0; i < 3; i++ {
			_, err := env.svc.CastVote(ctx, poll.ID, voterID, 1)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr, "voter %q", voterID)
			assert.Contains(t, verr.Fields, "voter_id")
		}
		_, err := env.svc.ToggleVote(ctx, poll.ID, voterID, 2)
		assert.Error(t, err)
	}

	view, err := env.svc.ViewPoll(ctx, poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.Equal(t, 0, *view.TotalVotes)
	assert.Empty(t, optionVoters(view, 1))
	assert.Empty(t, optionVoters(view, 2))

	buckets, err := env.store.QueryBuckets(ctx, poll.ID)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestVote_WriteFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, nil)

	env.store.putBucketErr = errStoreDown
	_, err := env.svc.CastVote(ctx, poll.ID, "U1", 1)
	assert.ErrorIs(t, err, errStoreDown)

	env.store.putBucketErr = nil
	votes, err := env.svc.MyVotes(ctx, poll.ID, "U1")
	require.NoError(t, err)
	assert.Empty(t, votes)
}

func TestVote_ClosedWhileInFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, nil)

	_, err := env.svc.CastVote(ctx, poll.ID, "U1", 1)
	require.NoError(t, err)
	require.NotEqual(t, ledger.Bucket("U1"), ledger.Bucket("U2"))

	// the creator's close lands between the vote request arriving and its
	// lifecycle check
	closed := false
	env.store.beforeGetPoll = func(id string) {
		if closed {
			return
		}
		closed = true
		_, err := env.svc.ClosePoll(ctx, poll.ID, "UCREATOR")
		require.NoError(t, err)
	}

	_, err = env.svc.CastVote(ctx, poll.ID, "U2", 2)
	assert.ErrorIs(t, err, ErrPollClosed)

	_, err = env.store.GetBucket(ctx, poll.ID, ledger.Bucket("U2"))
	assert.ErrorIs(t, err, repository.ErrNotFound, "rejected vote must not be written")

	view, err := env.svc.ViewPoll(ctx, poll.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, *view.TotalVotes)
}

func TestClosePoll_Twice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, func(in *CreatePollInput) {
		in.Visibility = models.Visibility{CountsAfter: models.VisibleToCreator}
	})
	_, err := env.svc.CastVote(ctx, poll.ID, "U1", 1)
	require.NoError(t, err)

	view, err := env.svc.ClosePoll(ctx, poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusClosed, view.Status)
	assert.NotNil(t, view.ClosedAt)

	view, err = env.svc.ClosePoll(ctx, poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusClosed, view.Status)

	assert.Equal(t, 1, env.notifier.count(), "one summary")
	assert.Equal(t, []string{poll.SchedulerHandle}, env.scheduler.cancels, "one cancel")
	assert.Empty(t, env.scheduler.jobsOfKind(mq.JobClosePoll))

	stored, err := env.store.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.SchedulerHandle)

	post := env.notifier.posts[0]
	assert.Equal(t, "UCREATOR", post.recipient)
	assert.Contains(t, post.content, "`1 vote`")
	assert.NotContains(t, post.content, "<@U1>", "names stay public so they are not sent")
}

func TestClosePoll_NotCreator(t *testing.T) {
	env := newTestEnv(t)
	poll := env.createPoll(t, nil)

	_, err := env.svc.ClosePoll(context.Background(), poll.ID, "U1")
	assert.ErrorIs(t, err, ErrNotCreator)

	_, err = env.svc.ClosePoll(context.Background(), "missing", "UCREATOR")
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestClosePoll_NoSummaryWhenResultsArePublic(t *testing.T) {
	env := newTestEnv(t)
	poll := env.createPoll(t, nil)

	_, err := env.svc.ClosePoll(context.Background(), poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.Equal(t, 0, env.notifier.count())
}

func TestClosePoll_NotifierFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = fmt.Errorf("chat down")
	poll := env.createPoll(t, func(in *CreatePollInput) {
		in.Visibility = models.Visibility{NamesAfter: models.VisibleToCreator}
	})

	view, err := env.svc.ClosePoll(context.Background(), poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusClosed, view.Status)
	assert.Equal(t, 1, env.notifier.count())
}

func TestHandleScheduledClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, func(in *CreatePollInput) {
		in.Visibility = models.Visibility{NamesAfter: models.VisibleToCreator}
	})
	_, err := env.svc.CastVote(ctx, poll.ID, "U1", 2)
	require.NoError(t, err)

	job := env.scheduler.take(poll.SchedulerHandle)
	require.NoError(t, env.svc.HandleJob(ctx, job))

	stored, err := env.store.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsClosed())
	assert.Equal(t, 0, env.scheduler.cancelCount(), "a fired job is not cancelled")

	require.Equal(t, 1, env.notifier.count())
	assert.Contains(t, env.notifier.posts[0].content, "<@U1>")

	// redelivery and a late manual close are both no-ops
	require.NoError(t, env.svc.HandleScheduledClose(ctx, poll.ID))
	_, err = env.svc.ClosePoll(ctx, poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.Equal(t, 1, env.notifier.count())
	assert.Equal(t, 0, env.scheduler.cancelCount())

	assert.NoError(t, env.svc.HandleScheduledClose(ctx, "deleted-poll"))
}

func TestDeletePoll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, func(in *CreatePollInput) {
		in.Visibility = models.Visibility{CountsAfter: models.VisibleToCreator}
	})

	assert.ErrorIs(t, env.svc.DeletePoll(ctx, poll.ID, "U1"), ErrNotCreator)
	require.NoError(t, env.svc.DeletePoll(ctx, poll.ID, "UCREATOR"))

	stored, err := env.store.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsClosed())
	assert.Equal(t, 0, env.notifier.count(), "delete sends no summary")
	assert.Equal(t, []string{poll.SchedulerHandle}, env.scheduler.cancels)

	_, err = env.svc.CastVote(ctx, poll.ID, "U1", 1)
	assert.ErrorIs(t, err, ErrPollClosed)
}

func TestViewPoll_Visibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, func(in *CreatePollInput) {
		in.Visibility = models.Visibility{
			NamesDuring:  models.VisibleToCreator,
			NamesAfter:   models.VisibleToEveryone,
			CountsDuring: models.VisibleToNoOne,
			CountsAfter:  models.VisibleToEveryone,
		}
	})
	for _, voter := range []string{"U1", "U2", "U3"} {
		_, err := env.svc.CastVote(ctx, poll.ID, voter, 1)
		require.NoError(t, err)
	}

	creatorView, err := env.svc.ViewPoll(ctx, poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.True(t, creatorView.ShowNames)
	assert.False(t, creatorView.ShowCounts)
	assert.ElementsMatch(t, []string{"U1", "U2", "U3"}, optionVoters(creatorView, 1))
	assert.Nil(t, creatorView.Options[0].Count)
	assert.Nil(t, creatorView.TotalVotes)

	voterView, err := env.svc.ViewPoll(ctx, poll.ID, "U1")
	require.NoError(t, err)
	assert.False(t, voterView.ShowNames)
	assert.Empty(t, optionVoters(voterView, 1))
	assert.Equal(t, "Red", voterView.Options[0].Text)
	assert.Equal(t, []int{1}, voterView.MyVotes)
	assert.Equal(t, "", voterView.Footer)

	_, err = env.svc.ClosePoll(ctx, poll.ID, "UCREATOR")
	require.NoError(t, err)

	closedView, err := env.svc.ViewPoll(ctx, poll.ID, "U9")
	require.NoError(t, err)
	assert.True(t, closedView.ShowNames)
	assert.True(t, closedView.ShowCounts)
	assert.Equal(t, 3, *closedView.Options[0].Count)
	assert.Equal(t, 0, *closedView.Options[1].Count)
	assert.Equal(t, "Poll closed. 3 votes received.", closedView.Footer)
	assert.True(t, strings.HasPrefix(closedView.Options[0].Text, "Red\n`3 votes` <@"))
	assert.Equal(t, "Blue\n`no votes`", closedView.Options[1].Text)
}

func TestVote_ConcurrentVotersInDistinctBuckets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, nil)

	const voters = 10
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(voter string) {
			defer wg.Done()
			if _, err := env.svc.CastVote(ctx, poll.ID, voter, 1); err != nil {
				errs <- err
			}
		}(fmt.Sprintf("U%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("vote failed: %v", err)
	}

	view, err := env.svc.ViewPoll(ctx, poll.ID, "")
	require.NoError(t, err)
	assert.Equal(t, voters, *view.TotalVotes)
	assert.Len(t, optionVoters(view, 1), voters)
}

type countingLocker struct {
	mu    sync.Mutex
	locks []string
}

func (l *countingLocker) WithBucketLock(ctx context.Context, pollID string, bucketIndex int, action func() error) error {
	l.mu.Lock()
	l.locks = append(l.locks, models.BucketKey(pollID, bucketIndex))
	l.mu.Unlock()
	return action()
}

func TestVote_UsesBucketLocker(t *testing.T) {
	locker := &countingLocker{}
	env := newTestEnv(t, WithBucketLocker(locker))
	poll := env.createPoll(t, nil)

	_, err := env.svc.CastVote(context.Background(), poll.ID, "U1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{models.BucketKey(poll.ID, ledger.Bucket("U1"))}, locker.locks)
}

func TestRescheduleOpenPolls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	open := env.createPoll(t, nil)
	closed := env.createPoll(t, nil)
	_, err := env.svc.ClosePoll(ctx, closed.ID, "UCREATOR")
	require.NoError(t, err)

	n, err := env.svc.RescheduleOpenPolls(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := env.store.GetPoll(ctx, open.ID)
	require.NoError(t, err)
	assert.NotEqual(t, open.SchedulerHandle, stored.SchedulerHandle)
	assert.Equal(t, open.ID, env.scheduler.jobs[stored.SchedulerHandle].PollID)
}

func TestRescheduleOpenPolls_ClosesOverduePollsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, func(in *CreatePollInput) {
		in.Visibility = models.Visibility{CountsAfter: models.VisibleToCreator}
	})
	jobsBefore := len(env.scheduler.jobsOfKind(mq.JobClosePoll))

	env.now = env.now.Add(2 * time.Hour)
	n, err := env.svc.RescheduleOpenPolls(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := env.store.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsClosed())
	assert.Empty(t, stored.SchedulerHandle)
	assert.Len(t, env.scheduler.jobsOfKind(mq.JobClosePoll), jobsBefore, "no new job for an overdue poll")
	assert.Equal(t, 1, env.notifier.count())

	_, err = env.svc.ClosePoll(ctx, poll.ID, "UCREATOR")
	require.NoError(t, err)
	assert.Equal(t, 1, env.notifier.count())
}

func TestRescheduleOpenPolls_SkipsPollClosedMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	poll := env.createPoll(t, nil)

	closed := false
	env.store.beforeGetPoll = func(id string) {
		if closed {
			return
		}
		closed = true
		_, err := env.svc.ClosePoll(ctx, id, "UCREATOR")
		require.NoError(t, err)
	}

	n, err := env.svc.RescheduleOpenPolls(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.store.beforeGetPoll = nil
	stored, err := env.store.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsClosed())
	assert.Empty(t, stored.SchedulerHandle)
	assert.Empty(t, env.scheduler.jobsOfKind(mq.JobClosePoll))
}

// slowPollStore delays poll writes so a short-lived close job can fire while
// a poll is still being created.
type slowPollStore struct {
	repository.Store
	delay time.Duration
}

func (s *slowPollStore) PutPoll(ctx context.Context, poll *models.Poll) error {
	time.Sleep(s.delay)
	return s.Store.PutPoll(ctx, poll)
}

func TestCreatePoll_ShortCloseTimeWithSlowStore(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &slowPollStore{Store: repository.NewMemoryStore(), delay: 20 * time.Millisecond}
	scheduler := mq.NewTimerScheduler(logger)
	svc := NewPollService(store, scheduler, &fakeNotifier{}, logger)
	require.NoError(t, scheduler.Start(ctx, svc.HandleJob))
	t.Cleanup(scheduler.Stop)

	poll, err := svc.CreatePoll(ctx, CreatePollInput{
		Title:     "Quick one",
		CreatorID: "UCREATOR",
		Options:   []string{"Yes", "No"},
		CloseAt:   time.Now().Add(5 * time.Millisecond),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := store.GetPoll(ctx, poll.ID)
		return err == nil && stored.IsClosed()
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := store.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.SchedulerHandle)
	assert.NotNil(t, stored.ClosedAt)
}
