package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pulsegate/pulsegate/internal/platform/messagebroker"
)

// NATSAttemptQueueGroup load-balances attempt jobs across retry workers.
const NATSAttemptQueueGroup = "dispatch_retry_workers"

// AttemptConsumer subscribes to attempt jobs and feeds them to the
// RetryCoordinator.
type AttemptConsumer struct {
	coordinator *RetryCoordinator
	natsClient  *messagebroker.NATSClient
	logger      *slog.Logger
	jobTimeout  time.Duration
	sub         *nats.Subscription
}

// NewAttemptConsumer creates an AttemptConsumer.
func NewAttemptConsumer(coordinator *RetryCoordinator, natsClient *messagebroker.NATSClient, logger *slog.Logger) *AttemptConsumer {
	return &AttemptConsumer{
		coordinator: coordinator,
		natsClient:  natsClient,
		logger:      logger.With("service", "attempt_consumer"),
		jobTimeout:  60 * time.Second,
	}
}

// Start subscribes to the attempt subject within the worker queue group.
func (c *AttemptConsumer) Start(ctx context.Context) error {
	if c.natsClient == nil {
		return errors.New("NATS client not initialized in AttemptConsumer")
	}
	c.logger.InfoContext(ctx, "Starting NATS attempt consumer",
		"subject", NATSAttemptSubject, "queue_group", NATSAttemptQueueGroup)

	handler := func(msg *nats.Msg) {
		var job AttemptJobPayload
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			c.logger.Error("Failed to unmarshal attempt job payload", "error", err, "data", string(msg.Data))
			return
		}

		jobCtx, cancel := context.WithTimeout(context.Background(), c.jobTimeout)
		defer cancel()

		if err := c.coordinator.Attempt(jobCtx, job.MessageID); err != nil {
			c.logger.Error("Failed to process send attempt", "error", err, "message_id", job.MessageID)
		}
	}

	sub, err := c.natsClient.QueueSubscribe(NATSAttemptSubject, NATSAttemptQueueGroup, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe for attempt jobs: %w", err)
	}
	c.sub = sub
	return nil
}

// Stop unsubscribes from the attempt subject.
func (c *AttemptConsumer) Stop() {
	if c.sub != nil && c.sub.IsValid() {
		c.logger.Info("Unsubscribing from attempt subject", "subject", c.sub.Subject)
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Error("Failed to unsubscribe from NATS", "error", err, "subject", c.sub.Subject)
		}
	}
}
