package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
	"github.com/pulsegate/pulsegate/internal/platform/messagebroker"
)

// NATSAttemptSubject carries due attempt jobs to the retry workers.
const NATSAttemptSubject = "dispatch.attempts.run"

// AttemptJobPayload is the NATS message handed to retry workers.
type AttemptJobPayload struct {
	MessageID string `json:"message_id"`
}

// PollerConfig holds configuration specific to the AttemptPoller.
type PollerConfig struct {
	PollingInterval time.Duration
	BatchSize       int
}

// AttemptPoller acquires due scheduled attempts and hands them to workers over
// NATS. Acquisition deletes the row, so a poll cycle that dies after acquiring
// loses at most one batch; that trade matches the at-least-delay, best-effort
// visibility the scheduler promises.
type AttemptPoller struct {
	attempts   domain.ScheduledAttemptRepository
	natsClient *messagebroker.NATSClient
	logger     *slog.Logger
	config     PollerConfig
}

// NewAttemptPoller creates an AttemptPoller.
func NewAttemptPoller(
	attempts domain.ScheduledAttemptRepository,
	natsClient *messagebroker.NATSClient,
	logger *slog.Logger,
	config PollerConfig,
) *AttemptPoller {
	return &AttemptPoller{
		attempts:   attempts,
		natsClient: natsClient,
		logger:     logger.With("service", "attempt_poller"),
		config:     config,
	}
}

// Run polls until the context is cancelled.
func (p *AttemptPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Attempt poller stopping")
			return
		case <-ticker.C:
			if _, err := p.PollAndDispatchAttempts(ctx); err != nil {
				p.logger.ErrorContext(ctx, "Poll cycle failed", "error", err)
			}
		}
	}
}

// PollAndDispatchAttempts acquires due attempts and publishes one job each.
// It returns the number of attempts published.
func (p *AttemptPoller) PollAndDispatchAttempts(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(pollCycleDurationHist)
	defer timer.ObserveDuration()

	due, err := p.attempts.AcquireDue(ctx, time.Now().UTC(), p.config.BatchSize)
	if err != nil {
		if errors.Is(err, domain.ErrNoDueAttempts) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to acquire due attempts: %w", err)
	}

	attemptsAcquiredCounter.Add(float64(len(due)))
	published := 0
	for _, attempt := range due {
		data, err := json.Marshal(AttemptJobPayload{MessageID: attempt.MessageID})
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to marshal attempt job", "error", err, "message_id", attempt.MessageID)
			continue
		}
		if err := p.natsClient.Publish(ctx, NATSAttemptSubject, data); err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish attempt job", "error", err, "message_id", attempt.MessageID)
			continue
		}
		published++
	}

	if published > 0 {
		p.logger.InfoContext(ctx, "Dispatched due attempts", "acquired", len(due), "published", published)
	}
	return published, nil
}
