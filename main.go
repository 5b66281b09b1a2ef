package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatpoll-backend/cache"
	"chatpoll-backend/config"
	"chatpoll-backend/database"
	"chatpoll-backend/handlers"
	"chatpoll-backend/mq"
	"chatpoll-backend/repository"
	"chatpoll-backend/routes"
	"chatpoll-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

var version = "0.1.0"

// jobScheduler is a scheduler main can start and stop.
type jobScheduler interface {
	service.Scheduler
	Start(ctx context.Context, handler mq.Handler) error
	Stop()
}

func main() {
	configFile := flag.String("config", os.Getenv("POLL_CONFIG_FILE"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	checks := map[string]handlers.Check{}

	var redisClient *redis.Client
	var rc cache.RedisClient
	if cfg.UsesRedis() {
		redisClient, err = cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Error("failed to connect redis", "error", err)
			os.Exit(1)
		}
		rc = redisClient
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	}

	store, err := openStore(cfg, rc, checks)
	if err != nil {
		logger.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	logger.Info("store ready", "store", cfg.Store)

	var scheduler jobScheduler
	switch cfg.Scheduler {
	case config.SchedulerRedis:
		scheduler = mq.NewRedisScheduler(rc, cfg.SchedulerPollInterval, logger)
	default:
		scheduler = mq.NewTimerScheduler(logger)
	}

	notifier, err := mq.NewNotifier(cfg, rc, logger)
	if err != nil {
		logger.Error("failed to create notifier", "error", err)
		os.Exit(1)
	}

	opts := []service.Option{service.WithSweepInterval(cfg.SweepInterval)}
	if cfg.BucketLocking {
		opts = append(opts, service.WithBucketLocker(cache.NewLockService(redisClient, cache.DefaultLockExpiry)))
	}
	svc := service.NewPollService(store, scheduler, notifier, logger, opts...)

	if err := scheduler.Start(ctx, svc.HandleJob); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	if cfg.Scheduler == config.SchedulerTimer {
		// in-process timers did not survive the last shutdown
		if err := svc.ReinstallSweep(ctx); err != nil {
			logger.Warn("failed to install cleanup sweep", "error", err)
		}
		n, err := svc.RescheduleOpenPolls(ctx)
		if err != nil {
			logger.Warn("failed to reschedule open polls", "error", err)
		} else if n > 0 {
			logger.Info("rescheduled auto-close jobs", "polls", n)
		}
	} else if err := svc.EnsureSweepInstalled(ctx); err != nil {
		logger.Warn("failed to install cleanup sweep", "error", err)
	}

	router := routes.SetupRouter(cfg,
		handlers.NewPollHandler(svc, logger),
		handlers.NewHealthHandler(version, checks))
	srv := routes.StartServer(router, cfg.Port, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shut down", "error", err)
	}

	stop()
	scheduler.Stop()
	if err := notifier.Close(); err != nil {
		logger.Warn("failed to close notifier", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Warn("failed to close store", "error", err)
	}
	if redisClient != nil && cfg.Store != config.StoreRedis {
		_ = redisClient.Close()
	}

	logger.Info("server exited")
}

func openStore(cfg *config.Config, rc cache.RedisClient, checks map[string]handlers.Check) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite, config.StoreMySQL:
		db, err := database.Open(cfg.Store, cfg.DatabaseDSN, cfg.SQLDebug)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		checks["database"] = sqlDB.PingContext
		return database.NewStore(db), nil
	case config.StoreRedis:
		return cache.NewRedisStore(rc), nil
	default:
		return repository.NewMemoryStore(), nil
	}
}
