package service

import (
	"context"
	"errors"
	"fmt"

	"chatpoll-backend/models"
	"chatpoll-backend/mq"
	"chatpoll-backend/repository"
)

// SweepReport counts what a sweep removed.
type SweepReport struct {
	Polls    int `json:"polls"`
	Buckets  int `json:"buckets"`
	Failures int `json:"failures"`
}

// Sweep deletes every closed poll together with its bucket records. Failures
// are logged and counted and the sweep moves on; a poll whose buckets could
// not all be deleted is kept so the next sweep retries it.
func (s *PollService) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	polls, err := s.store.QueryPollsByStatus(ctx, models.PollStatusClosed)
	if err != nil {
		return report, fmt.Errorf("query closed polls: %w", err)
	}

	s.logger.Info("cleanup sweep started", "closed_polls", len(polls))
	for _, poll := range polls {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		buckets, err := s.store.QueryBuckets(ctx, poll.ID)
		if err != nil {
			s.logger.Error("failed to query bucket records", "poll_id", poll.ID, "error", err)
			report.Failures++
			continue
		}

		bucketFailures := 0
		for _, bucket := range buckets {
			if err := s.store.DeleteBucket(ctx, poll.ID, bucket.BucketIndex); err != nil {
				s.logger.Error("failed to delete bucket record", "bucket_id", bucket.ID, "error", err)
				bucketFailures++
				continue
			}
			s.logger.Debug("deleted bucket record", "bucket_id", bucket.ID)
			report.Buckets++
		}
		if bucketFailures > 0 {
			report.Failures += bucketFailures
			continue
		}

		if err := s.store.DeletePoll(ctx, poll.ID); err != nil {
			s.logger.Error("failed to delete poll record", "poll_id", poll.ID, "error", err)
			report.Failures++
			continue
		}
		s.logger.Info("deleted closed poll", "poll_id", poll.ID, "buckets", len(buckets))
		report.Polls++
	}

	s.logger.Info("cleanup sweep finished",
		"polls", report.Polls, "buckets", report.Buckets, "failures", report.Failures)
	return report, nil
}

// EnsureSweepInstalled schedules the recurring cleanup sweep unless the
// global settings record says it is already installed.
func (s *PollService) EnsureSweepInstalled(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		settings = &models.GlobalSettings{ID: models.GlobalSettingsID}
	} else if err != nil {
		return fmt.Errorf("get global settings: %w", err)
	}
	if settings.SweepInstalled {
		return nil
	}
	return s.installSweep(ctx, settings)
}

// ReinstallSweep replaces the sweep job regardless of the installed flag. It
// is used with schedulers that lose their jobs on restart.
func (s *PollService) ReinstallSweep(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		settings = &models.GlobalSettings{ID: models.GlobalSettingsID}
	} else if err != nil {
		return fmt.Errorf("get global settings: %w", err)
	}

	if settings.SweepHandle != "" {
		if err := s.scheduler.Cancel(ctx, settings.SweepHandle); err != nil && !errors.Is(err, mq.ErrJobNotFound) {
			s.logger.Warn("failed to cancel previous sweep job", "handle", settings.SweepHandle, "error", err)
		}
	}
	return s.installSweep(ctx, settings)
}

func (s *PollService) installSweep(ctx context.Context, settings *models.GlobalSettings) error {
	fireAt := s.now().Add(s.sweepInterval)
	handle, err := s.scheduler.Schedule(ctx, fireAt, mq.Job{Kind: mq.JobSweep})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	settings.SweepInstalled = true
	settings.SweepHandle = handle
	if err := s.store.PutSettings(ctx, settings); err != nil {
		if cerr := s.scheduler.Cancel(ctx, handle); cerr != nil && !errors.Is(cerr, mq.ErrJobNotFound) {
			s.logger.Warn("failed to cancel unrecorded sweep job", "handle", handle, "error", cerr)
		}
		return fmt.Errorf("save global settings: %w", err)
	}

	s.logger.Info("cleanup sweep installed", "next_run", fireAt, "handle", handle)
	return nil
}

// runScheduledSweep runs a fired sweep job and arms the next one. When the
// next run cannot be scheduled the installed flag is cleared so the next
// poll creation installs it again.
func (s *PollService) runScheduledSweep(ctx context.Context, job mq.Job) error {
	s.logger.Debug("sweep job fired", "handle", job.Handle)
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("cleanup sweep failed", "error", err)
	}

	settings := &models.GlobalSettings{ID: models.GlobalSettingsID}
	if err := s.installSweep(ctx, settings); err != nil {
		s.logger.Error("failed to re-arm cleanup sweep", "error", err)
		if perr := s.store.PutSettings(ctx, &models.GlobalSettings{ID: models.GlobalSettingsID}); perr != nil {
			s.logger.Error("failed to clear sweep flag", "error", perr)
		}
	}
	return nil
}
