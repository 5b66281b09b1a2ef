package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"chatpoll-backend/cache"
	"chatpoll-backend/config"
)

// SummaryQueueKey is the redis list RedisNotifier pushes summaries onto.
const SummaryQueueKey = "poll_summary_queue"

// Notifier delivers results summaries and owns its connection.
type Notifier interface {
	PostSummary(ctx context.Context, recipientID, content string) error
	Close() error
}

// NewNotifier picks the notifier named in the config. When RocketMQ cannot be
// started it falls back to the redis queue if a client is available and to the
// log otherwise, so a broker outage never blocks startup.
func NewNotifier(cfg *config.Config, client cache.RedisClient, logger *slog.Logger) (Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierLog:
		return NewLogNotifier(logger), nil
	case config.NotifierRedis:
		if client == nil {
			return nil, fmt.Errorf("redis notifier requires a redis client")
		}
		return NewRedisNotifier(client, logger), nil
	case config.NotifierRocketMQ:
		n, err := NewRocketNotifier(cfg.RocketMQNameServers, cfg.RocketMQGroup, logger)
		if err == nil {
			return n, nil
		}
		if client != nil {
			logger.Warn("rocketmq unavailable, using redis summary queue", "error", err)
			return NewRedisNotifier(client, logger), nil
		}
		logger.Warn("rocketmq unavailable, summaries will only be logged", "error", err)
		return NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

// RedisNotifier pushes summaries onto a redis list for a delivery worker.
type RedisNotifier struct {
	client cache.RedisClient
	queue  string
	logger *slog.Logger
}

func NewRedisNotifier(client cache.RedisClient, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, queue: SummaryQueueKey, logger: logger}
}

// PostSummary implements service.Notifier.
func (n *RedisNotifier) PostSummary(ctx context.Context, recipientID, content string) error {
	msg := newSummaryMessage(recipientID, content)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := n.client.LPush(ctx, n.queue, data).Err(); err != nil {
		return fmt.Errorf("queue summary for %s: %w", recipientID, err)
	}
	n.logger.Debug("summary queued", "queue", n.queue, "message_id", msg.MessageID, "recipient", recipientID)
	return nil
}

// Close is a no-op: the redis client is shared and closed by its owner.
func (n *RedisNotifier) Close() error {
	return nil
}

// LogNotifier only logs summaries.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// PostSummary implements service.Notifier.
func (n *LogNotifier) PostSummary(_ context.Context, recipientID, content string) error {
	n.logger.Info("poll summary", "recipient", recipientID, "content", content)
	return nil
}

func (n *LogNotifier) Close() error {
	return nil
}
