package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/google/uuid"
)

// TopicPollSummaries carries results summaries for delivery to poll creators.
const TopicPollSummaries = "poll_summaries"

// SummaryMessage is the body published for each results summary.
type SummaryMessage struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

func newSummaryMessage(recipientID, content string) SummaryMessage {
	return SummaryMessage{
		MessageID:   uuid.NewString(),
		RecipientID: recipientID,
		Content:     content,
		Timestamp:   time.Now().Unix(),
	}
}

// syncSender is the part of rocketmq.Producer the notifier uses.
type syncSender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

// RocketNotifier publishes results summaries to a RocketMQ topic. A chat
// delivery worker consumes the topic and posts each summary to its recipient.
type RocketNotifier struct {
	producer syncSender
	topic    string
	logger   *slog.Logger
}

// NewRocketNotifier starts a producer on the given name servers.
func NewRocketNotifier(nameServers []string, group string, logger *slog.Logger) (*RocketNotifier, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNameServer(nameServers),
		producer.WithGroupName(group),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(10*time.Second),
		producer.WithVIPChannel(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}
	logger.Info("rocketmq producer started", "name_servers", nameServers, "group", group)
	return newRocketNotifier(p, TopicPollSummaries, logger), nil
}

func newRocketNotifier(p syncSender, topic string, logger *slog.Logger) *RocketNotifier {
	return &RocketNotifier{producer: p, topic: topic, logger: logger}
}

// PostSummary implements service.Notifier. Messages for one recipient share a
// sharding key so they are delivered in order.
func (n *RocketNotifier) PostSummary(ctx context.Context, recipientID, content string) error {
	msg := newSummaryMessage(recipientID, content)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	message := primitive.NewMessage(n.topic, body)
	message.WithTag("summary")
	message.WithKeys([]string{msg.MessageID})
	message.WithShardingKey(recipientID)

	res, err := n.producer.SendSync(ctx, message)
	if err != nil {
		return fmt.Errorf("send summary to %s: %w", recipientID, err)
	}
	n.logger.Debug("summary published", "msg_id", res.MsgID, "message_id", msg.MessageID, "recipient", recipientID)
	return nil
}

// Close shuts the producer down.
func (n *RocketNotifier) Close() error {
	return n.producer.Shutdown()
}
