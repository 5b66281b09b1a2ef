package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatpoll-backend/ledger"
	"chatpoll-backend/models"
	"chatpoll-backend/mq"
	"chatpoll-backend/repository"

	"github.com/google/uuid"
)

// Scheduler runs delayed jobs. mq.RedisScheduler and mq.TimerScheduler
// implement it. Schedule must use job.Handle when the caller sets one.
type Scheduler interface {
	Schedule(ctx context.Context, fireAt time.Time, job mq.Job) (string, error)
	Cancel(ctx context.Context, handle string) error
}

// Notifier delivers results summaries to poll creators.
type Notifier interface {
	PostSummary(ctx context.Context, recipientID, content string) error
}

// BucketLocker serializes read-modify-write cycles on one bucket record.
// *cache.LockService implements it.
type BucketLocker interface {
	WithBucketLock(ctx context.Context, pollID string, bucketIndex int, action func() error) error
}

// DefaultSweepInterval is how often closed polls are purged.
const DefaultSweepInterval = 24 * time.Hour

// PollService runs the poll lifecycle on top of a key-value store. It keeps no
// poll state between calls: every operation reads fresh records.
type PollService struct {
	store         repository.Store
	scheduler     Scheduler
	notifier      Notifier
	locker        BucketLocker
	logger        *slog.Logger
	sweepInterval time.Duration
	now           func() time.Time
}

// Option configures a PollService.
type Option func(*PollService)

// WithBucketLocker guards bucket updates with a lock. Without one, writers
// sharing a bucket race and the last write wins.
func WithBucketLocker(locker BucketLocker) Option {
	return func(s *PollService) { s.locker = locker }
}

// WithSweepInterval sets the delay between cleanup sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(s *PollService) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *PollService) { s.now = now }
}

// NewPollService creates a poll service.
func NewPollService(store repository.Store, scheduler Scheduler, notifier Notifier, logger *slog.Logger, opts ...Option) *PollService {
	s := &PollService{
		store:         store,
		scheduler:     scheduler,
		notifier:      notifier,
		logger:        logger,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePollInput is a request to create a poll. Options and OptionsText are
// merged: OptionsText holds one label per line.
type CreatePollInput struct {
	Title           string            `json:"title"`
	ChannelID       string            `json:"channel_id"`
	CreatorID       string            `json:"-"`
	Options         []string          `json:"options"`
	OptionsText     string            `json:"options_text"`
	MaxVotesPerUser int               `json:"max_votes_per_user"`
	CloseAt         time.Time         `json:"close_at"`
	Visibility      models.Visibility `json:"visibility"`
}

func (s *PollService) validateCreate(in CreatePollInput) ([]string, models.Visibility, error) {
	verr := &ValidationError{}

	if strings.TrimSpace(in.Title) == "" {
		verr.add("title", "a topic is required")
	}
	if strings.TrimSpace(in.CreatorID) == "" {
		verr.add("creator_id", "a creator is required")
	}

	var options []string
	for _, label := range in.Options {
		if label = strings.TrimSpace(label); label != "" {
			options = append(options, label)
		}
	}
	options = append(options, ParseOptions(in.OptionsText)...)
	switch {
	case len(options) == 0:
		verr.add("options", "at least one option is required")
	case len(options) > models.MaxOptions:
		verr.add("options", fmt.Sprintf("at most %d options are allowed, got %d", models.MaxOptions, len(options)))
	}

	if in.CloseAt.IsZero() || !in.CloseAt.After(s.now()) {
		verr.add("close_at", "close time must be in the future")
	}

	visibility := in.Visibility.WithDefaults()
	for _, setting := range []models.VisibilitySetting{
		visibility.NamesDuring, visibility.NamesAfter, visibility.CountsDuring, visibility.CountsAfter,
	} {
		if !setting.Valid() {
			verr.add("visibility", fmt.Sprintf("unknown visibility setting %q", setting))
			break
		}
	}

	if in.MaxVotesPerUser < 0 {
		verr.add("max_votes_per_user", "must not be negative")
	}

	return options, visibility, verr.errOrNil()
}

// CreatePoll validates and stores a new open poll and schedules its
// auto-close. A poll whose auto-close cannot be scheduled is still created
// and can be closed manually.
func (s *PollService) CreatePoll(ctx context.Context, in CreatePollInput) (*models.Poll, error) {
	options, visibility, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}

	poll := &models.Poll{
		ID:              uuid.NewString(),
		Title:           strings.TrimSpace(in.Title),
		ChannelID:       in.ChannelID,
		CreatorID:       strings.TrimSpace(in.CreatorID),
		Options:         options,
		MaxVotesPerUser: in.MaxVotesPerUser,
		CloseAt:         in.CloseAt,
		Status:          models.PollStatusOpen,
		Visibility:      visibility,
	}

	// The poll is stored with its job handle before the job exists, so a job
	// that fires early always finds the poll and nothing rewrites it after.
	poll.SchedulerHandle = uuid.NewString()
	if err := s.store.PutPoll(ctx, poll); err != nil {
		return nil, fmt.Errorf("save poll: %w", err)
	}

	job := mq.Job{Handle: poll.SchedulerHandle, Kind: mq.JobClosePoll, PollID: poll.ID}
	if _, err := s.scheduler.Schedule(ctx, poll.CloseAt, job); err != nil {
		s.logger.Warn("failed to schedule auto-close, poll needs a manual close",
			"poll_id", poll.ID, "close_at", poll.CloseAt, "error", err)
		// no job was created, so nothing can close the poll concurrently
		poll.SchedulerHandle = ""
		if err := s.store.PutPoll(ctx, poll); err != nil {
			s.logger.Warn("failed to clear auto-close handle", "poll_id", poll.ID, "error", err)
		}
	}

	s.logger.Info("poll created",
		"poll_id", poll.ID, "creator", poll.CreatorID, "options", len(poll.Options), "close_at", poll.CloseAt)

	if err := s.EnsureSweepInstalled(ctx); err != nil {
		s.logger.Warn("failed to install cleanup sweep", "error", err)
	}
	return poll, nil
}

func (s *PollService) getPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	poll, err := s.store.GetPoll(ctx, pollID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get poll %s: %w", pollID, err)
	}
	return poll, nil
}

func (s *PollService) getBucket(ctx context.Context, pollID string, bucketIndex int) (*models.VoteBucket, error) {
	bucket, err := s.store.GetBucket(ctx, pollID, bucketIndex)
	if errors.Is(err, repository.ErrNotFound) {
		return models.NewVoteBucket(pollID, bucketIndex), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket %s: %w", models.BucketKey(pollID, bucketIndex), err)
	}
	return bucket, nil
}

func (s *PollService) statistics(ctx context.Context, pollID string) (ledger.Statistics, error) {
	buckets, err := s.store.QueryBuckets(ctx, pollID)
	if err != nil {
		return ledger.Statistics{}, fmt.Errorf("query buckets of poll %s: %w", pollID, err)
	}
	encodings := make([]string, len(buckets))
	for i, b := range buckets {
		encodings[i] = b.Encoding
	}
	return ledger.Aggregate(encodings), nil
}

type voteAction int

const (
	voteToggle voteAction = iota
	voteAdd
	voteRemove
)

// VoteResult is the outcome of a vote action.
type VoteResult struct {
	OptionIndex int       `json:"option_index"`
	Voted       bool      `json:"voted"`
	Changed     bool      `json:"changed"`
	Message     string    `json:"message"`
	View        *PollView `json:"poll"`
}

// ToggleVote adds the voter's vote for an option, or removes it if present.
func (s *PollService) ToggleVote(ctx context.Context, pollID, voterID string, optionIndex int) (*VoteResult, error) {
	return s.vote(ctx, pollID, voterID, optionIndex, voteToggle)
}

// CastVote adds the voter's vote for an option. Voting twice is a no-op.
func (s *PollService) CastVote(ctx context.Context, pollID, voterID string, optionIndex int) (*VoteResult, error) {
	return s.vote(ctx, pollID, voterID, optionIndex, voteAdd)
}

// RetractVote removes the voter's vote for an option, if any.
func (s *PollService) RetractVote(ctx context.Context, pollID, voterID string, optionIndex int) (*VoteResult, error) {
	return s.vote(ctx, pollID, voterID, optionIndex, voteRemove)
}

func (s *PollService) vote(ctx context.Context, pollID, voterID string, optionIndex int, action voteAction) (*VoteResult, error) {
	if strings.TrimSpace(voterID) == "" {
		return nil, &ValidationError{Fields: map[string]string{"voter_id": "a voter is required"}}
	}
	if !ledger.ValidVoterID(voterID) {
		return nil, &ValidationError{Fields: map[string]string{"voter_id": "voter id must not contain ',' or '|'"}}
	}

	poll, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	// a control rendered before the close must not change the ledger
	if poll.IsClosed() {
		return nil, ErrPollClosed
	}
	label := poll.OptionLabel(optionIndex)
	if label == "" {
		return nil, ErrInvalidOption
	}

	bucketIndex := ledger.Bucket(voterID)
	var voted, changed bool
	var myVotes []int

	update := func() error {
		bucket, err := s.getBucket(ctx, pollID, bucketIndex)
		if err != nil {
			return err
		}

		present := ledger.HasVote(bucket.Encoding, voterID, optionIndex)
		add := action == voteAdd || (action == voteToggle && !present)

		encoding := bucket.Encoding
		if add {
			if !present && poll.MaxVotesPerUser > 0 &&
				ledger.CountVotes(encoding, voterID) >= poll.MaxVotesPerUser {
				return ErrVoteLimitReached
			}
			encoding = ledger.AddVote(encoding, voterID, optionIndex)
		} else {
			encoding = ledger.RemoveVote(encoding, voterID, optionIndex)
		}

		voted = add
		myVotes = ledger.VotedOptions(encoding, voterID)
		if encoding == bucket.Encoding {
			return nil
		}

		bucket.Encoding = encoding
		if err := s.store.PutBucket(ctx, bucket); err != nil {
			return fmt.Errorf("save bucket %s: %w", bucket.ID, err)
		}
		changed = true
		return nil
	}

	if s.locker != nil {
		err = s.locker.WithBucketLock(ctx, pollID, bucketIndex, update)
	} else {
		err = update()
	}
	if err != nil {
		return nil, err
	}

	stats, err := s.statistics(ctx, pollID)
	if err != nil {
		// the vote is stored; the next read recomputes the tally
		return nil, err
	}

	result := &VoteResult{
		OptionIndex: optionIndex,
		Voted:       voted,
		Changed:     changed,
		View:        renderView(poll, stats, voterID, myVotes),
	}
	if voted {
		result.Message = "You voted for: " + label
	} else {
		result.Message = "Vote removed for: " + label
	}

	if changed {
		s.logger.Debug("vote recorded",
			"poll_id", pollID, "voter", voterID, "option", optionIndex, "voted", voted, "bucket", bucketIndex)
	}
	return result, nil
}

// MyVotes returns the option indexes the voter has selected, ascending.
func (s *PollService) MyVotes(ctx context.Context, pollID, voterID string) ([]int, error) {
	if _, err := s.getPoll(ctx, pollID); err != nil {
		return nil, err
	}
	bucket, err := s.getBucket(ctx, pollID, ledger.Bucket(voterID))
	if err != nil {
		return nil, err
	}
	votes := ledger.VotedOptions(bucket.Encoding, voterID)
	if votes == nil {
		votes = []int{}
	}
	return votes, nil
}

// ViewPoll recomputes a poll's tally and renders it for viewerID.
func (s *PollService) ViewPoll(ctx context.Context, pollID, viewerID string) (*PollView, error) {
	poll, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, poll, viewerID)
}

func (s *PollService) view(ctx context.Context, poll *models.Poll, viewerID string) (*PollView, error) {
	stats, err := s.statistics(ctx, poll.ID)
	if err != nil {
		return nil, err
	}

	var myVotes []int
	if viewerID != "" {
		bucket, err := s.getBucket(ctx, poll.ID, ledger.Bucket(viewerID))
		if err != nil {
			return nil, err
		}
		myVotes = ledger.VotedOptions(bucket.Encoding, viewerID)
	}
	return renderView(poll, stats, viewerID, myVotes), nil
}

// ClosePoll closes a poll on its creator's request. Closing a closed poll is
// a no-op that returns the closed view.
func (s *PollService) ClosePoll(ctx context.Context, pollID, requesterID string) (*PollView, error) {
	poll, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !poll.IsCreator(requesterID) {
		return nil, ErrNotCreator
	}

	if _, err := s.closeTransition(ctx, poll, closeManual); err != nil {
		return nil, err
	}
	return s.view(ctx, poll, requesterID)
}

// DeletePoll closes a poll on its creator's request without sending a results
// summary. The records are removed by the next sweep.
func (s *PollService) DeletePoll(ctx context.Context, pollID, requesterID string) error {
	poll, err := s.getPoll(ctx, pollID)
	if err != nil {
		return err
	}
	if !poll.IsCreator(requesterID) {
		return ErrNotCreator
	}

	if _, err := s.closeTransition(ctx, poll, closeDelete); err != nil {
		return err
	}
	s.logger.Info("poll deleted", "poll_id", pollID)
	return nil
}

// HandleScheduledClose is the consumer of close_poll jobs. It is safe to run
// more than once for the same poll.
func (s *PollService) HandleScheduledClose(ctx context.Context, pollID string) error {
	poll, err := s.getPoll(ctx, pollID)
	if errors.Is(err, ErrPollNotFound) {
		s.logger.Info("scheduled close for a poll that no longer exists", "poll_id", pollID)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.closeTransition(ctx, poll, closeScheduled)
	return err
}

type closeTrigger int

const (
	closeManual closeTrigger = iota
	closeDelete
	closeScheduled
)

func (t closeTrigger) String() string {
	switch t {
	case closeManual:
		return "manual"
	case closeDelete:
		return "delete"
	default:
		return "scheduled"
	}
}

// closeTransition moves an open poll to closed, updating poll in place. It
// reports false when the poll was already closed, in which case nothing is
// written, cancelled or sent.
func (s *PollService) closeTransition(ctx context.Context, poll *models.Poll, trigger closeTrigger) (bool, error) {
	if poll.IsClosed() {
		return false, nil
	}

	stats, err := s.statistics(ctx, poll.ID)
	if err != nil {
		return false, err
	}

	closedAt := s.now()
	handle := poll.SchedulerHandle
	poll.Status = models.PollStatusClosed
	poll.ClosedAt = &closedAt
	poll.SchedulerHandle = ""
	if err := s.store.PutPoll(ctx, poll); err != nil {
		return false, fmt.Errorf("save closed poll %s: %w", poll.ID, err)
	}

	s.logger.Info("poll closed",
		"poll_id", poll.ID, "trigger", trigger.String(), "total_votes", stats.TotalVotes)

	// a fired job consumes itself
	if trigger != closeScheduled && handle != "" {
		if err := s.scheduler.Cancel(ctx, handle); err != nil {
			if errors.Is(err, mq.ErrJobNotFound) {
				s.logger.Debug("auto-close job already gone", "poll_id", poll.ID, "handle", handle)
			} else {
				s.logger.Warn("failed to cancel auto-close job", "poll_id", poll.ID, "handle", handle, "error", err)
			}
		}
	}

	if trigger != closeDelete {
		if send, withNames := needsSummary(poll); send {
			text := SummaryText(poll, stats, withNames)
			if err := s.notifier.PostSummary(ctx, poll.CreatorID, text); err != nil {
				s.logger.Warn("failed to post results summary", "poll_id", poll.ID, "creator", poll.CreatorID, "error", err)
			}
		}
	}
	return true, nil
}

// HandleJob dispatches a fired scheduler job.
func (s *PollService) HandleJob(ctx context.Context, job mq.Job) error {
	switch job.Kind {
	case mq.JobClosePoll:
		return s.HandleScheduledClose(ctx, job.PollID)
	case mq.JobSweep:
		return s.runScheduledSweep(ctx, job)
	default:
		s.logger.Warn("unknown job kind, dropped", "handle", job.Handle, "kind", job.Kind)
		return nil
	}
}

// RescheduleOpenPolls re-arms auto-close for every open poll. It is used with
// schedulers that lose their jobs on restart. Polls already past their close
// time are closed right away; the others get a fresh job, recorded on the poll
// before the job is scheduled. It returns how many polls were handled.
func (s *PollService) RescheduleOpenPolls(ctx context.Context) (int, error) {
	polls, err := s.store.QueryPollsByStatus(ctx, models.PollStatusOpen)
	if err != nil {
		return 0, fmt.Errorf("query open polls: %w", err)
	}

	handled := 0
	for _, poll := range polls {
		if !poll.CloseAt.After(s.now()) {
			if err := s.HandleScheduledClose(ctx, poll.ID); err != nil {
				s.logger.Warn("failed to close overdue poll", "poll_id", poll.ID, "error", err)
				continue
			}
			handled++
			continue
		}

		current, err := s.getPoll(ctx, poll.ID)
		if err != nil {
			s.logger.Warn("failed to reload poll for auto-close", "poll_id", poll.ID, "error", err)
			continue
		}
		if current.IsClosed() {
			continue
		}

		current.SchedulerHandle = uuid.NewString()
		if err := s.store.PutPoll(ctx, current); err != nil {
			s.logger.Warn("failed to save auto-close handle", "poll_id", poll.ID, "error", err)
			continue
		}
		job := mq.Job{Handle: current.SchedulerHandle, Kind: mq.JobClosePoll, PollID: current.ID}
		if _, err := s.scheduler.Schedule(ctx, current.CloseAt, job); err != nil {
			s.logger.Warn("failed to reschedule auto-close", "poll_id", poll.ID, "error", err)
			continue
		}
		handled++
	}
	return handled, nil
}
