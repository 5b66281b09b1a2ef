package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"chatpoll-backend/cache"
	"chatpoll-backend/models"
	"chatpoll-backend/mq"
	"chatpoll-backend/service"
)

// smoke runs concurrency checks against a live redis.
//
//	go run ./cmd/smoke -redis localhost:6379 lock votes
func main() {
	addr := flag.String("redis", "localhost:6379", "redis address")
	voters := flag.Int("voters", 200, "concurrent voters for the votes check")
	locking := flag.Bool("lock-buckets", true, "serialize bucket writes in the votes check")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	client, err := cache.NewRedisClient(ctx, cache.RedisOptions{Addr: *addr})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	checks := flag.Args()
	if len(checks) == 0 {
		checks = []string{"lock", "votes"}
	}

	failed := false
	for _, check := range checks {
		var err error
		switch check {
		case "lock":
			err = checkLock(ctx, cache.NewLockService(client, time.Second))
		case "votes":
			var locker service.BucketLocker
			if *locking {
				locker = cache.NewLockService(client, cache.DefaultLockExpiry)
			}
			err = checkVotes(ctx, cache.NewRedisStore(client), locker, *voters, logger)
		default:
			err = fmt.Errorf("unknown check %q", check)
		}
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", check, err)
			failed = true
			continue
		}
		fmt.Printf("ok   %s\n", check)
	}
	if failed {
		os.Exit(1)
	}
}

// checkLock verifies that holders of the same bucket lock never overlap.
func checkLock(ctx context.Context, locks *cache.LockService) error {
	const workers = 10
	var inside, overlaps, acquired int32
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locks.WithBucketLock(ctx, "smoke", 7, func() error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				atomic.AddInt32(&acquired, 1)
				return nil
			})
			if err != nil && !errors.Is(err, cache.ErrLockNotAcquired) {
				fmt.Fprintf(os.Stderr, "lock error: %v\n", err)
			}
		}()
	}
	wg.Wait()

	if overlaps > 0 {
		return fmt.Errorf("%d overlapping holders", overlaps)
	}
	if acquired == 0 {
		return errors.New("no worker acquired the lock")
	}
	return nil
}

// checkVotes casts one vote per voter concurrently and compares the tally.
// Without bucket locking, voters sharing a bucket may overwrite each other.
func checkVotes(ctx context.Context, store *cache.RedisStore, locker service.BucketLocker, voters int, logger *slog.Logger) error {
	scheduler := mq.NewTimerScheduler(logger)
	if err := scheduler.Start(ctx, func(context.Context, mq.Job) error { return nil }); err != nil {
		return err
	}
	defer scheduler.Stop()

	var opts []service.Option
	if locker != nil {
		opts = append(opts, service.WithBucketLocker(locker))
	}
	svc := service.NewPollService(store, scheduler, mq.NewLogNotifier(logger), logger, opts...)

	poll, err := svc.CreatePoll(ctx, service.CreatePollInput{
		Title:      "smoke",
		CreatorID:  "USMOKE",
		Options:    []string{"Red", "Blue"},
		CloseAt:    time.Now().Add(time.Hour),
		Visibility: models.DefaultVisibility(),
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = svc.DeletePoll(ctx, poll.ID, "USMOKE")
		_, _ = svc.Sweep(ctx)
	}()

	var wg sync.WaitGroup
	var failures int32
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.CastVote(ctx, poll.ID, fmt.Sprintf("U%05d", i), i%2+1); err != nil {
				atomic.AddInt32(&failures, 1)
			}
		}(i)
	}
	wg.Wait()

	view, err := svc.ViewPoll(ctx, poll.ID, "USMOKE")
	if err != nil {
		return err
	}
	total := 0
	if view.TotalVotes != nil {
		total = *view.TotalVotes
	}
	if want := voters - int(failures); total != want {
		return fmt.Errorf("tally %d, want %d (%d calls failed)", total, want, failures)
	}
	return nil
}
