package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

// RetryPolicy holds the per-channel attempt budgets.
type RetryPolicy struct {
	MaxAttempts map[domain.Channel]int
}

// MaxAttemptsFor returns the budget for a channel, defaulting to 3.
func (p RetryPolicy) MaxAttemptsFor(channel domain.Channel) int {
	if n, ok := p.MaxAttempts[channel]; ok && n > 0 {
		return n
	}
	return 3
}

// RetryCoordinator drives one send attempt to completion: breaker gate, send,
// classification, then either success, a backoff re-schedule, or dead-letter.
type RetryCoordinator struct {
	messages   domain.MessageRepository
	attempts   domain.ScheduledAttemptRepository
	senders    map[domain.Channel]domain.Sender
	breakers   map[string]*CircuitBreaker
	backoff    *BackoffCalculator
	policy     RetryPolicy
	deadLetter *DeadLetterRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewRetryCoordinator creates a RetryCoordinator. senders maps each channel to
// its provider adapter; breakers is keyed by sender service name.
func NewRetryCoordinator(
	messages domain.MessageRepository,
	attempts domain.ScheduledAttemptRepository,
	senders map[domain.Channel]domain.Sender,
	breakers map[string]*CircuitBreaker,
	backoff *BackoffCalculator,
	policy RetryPolicy,
	deadLetter *DeadLetterRecorder,
	logger *slog.Logger,
) *RetryCoordinator {
	return &RetryCoordinator{
		messages:   messages,
		attempts:   attempts,
		senders:    senders,
		breakers:   breakers,
		backoff:    backoff,
		policy:     policy,
		deadLetter: deadLetter,
		logger:     logger.With("service", "retry_coordinator"),
		now:        time.Now,
	}
}

// Attempt executes one send attempt for the message. Messages not in queued
// state are skipped: another worker already picked them up, or an operator
// intervened between scheduling and execution.
func (c *RetryCoordinator) Attempt(ctx context.Context, messageID string) error {
	msg, err := c.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			c.logger.WarnContext(ctx, "Scheduled attempt refers to unknown message", "message_id", messageID)
			return nil
		}
		return fmt.Errorf("failed to load message: %w", err)
	}

	if msg.Status != domain.MessageStatusQueued {
		c.logger.WarnContext(ctx, "Skipping attempt, message not queued",
			"message_id", msg.ID, "status", msg.Status)
		return nil
	}

	intent, err := domain.DeserializeIntent(msg.Payload)
	if err != nil {
		return fmt.Errorf("message %s payload is corrupt: %w", msg.ID, err)
	}

	sender, ok := c.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("no sender configured for channel %q", msg.Channel)
	}
	breaker, ok := c.breakers[sender.ServiceName()]
	if !ok {
		return fmt.Errorf("no circuit breaker configured for provider %q", sender.ServiceName())
	}

	claimed, err := c.messages.ClaimForSending(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to claim message for sending: %w", err)
	}
	if !claimed {
		// Another worker or a concurrent dispatch/replay moved the message
		// out of queued between our read and the claim.
		c.logger.WarnContext(ctx, "Skipping attempt, message claimed elsewhere", "message_id", msg.ID)
		return nil
	}

	timer := prometheus.NewTimer(attemptDurationHist.WithLabelValues(sender.ServiceName()))
	result, circuitOpen, err := c.send(ctx, sender, breaker, intent)
	timer.ObserveDuration()
	if err != nil {
		return err
	}

	attempts, err := c.messages.IncrementAttempts(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}

	switch domain.Classify(result) {
	case domain.FailureNone:
		if err := breaker.RecordSuccess(ctx); err != nil {
			c.logger.ErrorContext(ctx, "Failed to record breaker success", "error", err, "provider", sender.ServiceName())
		}
		attemptsProcessedCounter.WithLabelValues(sender.ServiceName(), "sent").Inc()
		c.logger.InfoContext(ctx, "Message sent",
			"message_id", msg.ID, "provider", sender.ServiceName(), "provider_message_id", result.ProviderMessageID, "attempts", attempts)
		return c.messages.UpdateStatus(ctx, msg.ID, domain.MessageStatusSent, nil)

	case domain.FailureTransient:
		lastError := fmt.Sprintf("%s: %s", result.ErrorCode, result.ErrorMessage)
		if err := c.messages.UpdateStatus(ctx, msg.ID, domain.MessageStatusFailed, &lastError); err != nil {
			return fmt.Errorf("failed to mark message failed: %w", err)
		}
		if circuitOpen {
			// An open circuit consumes attempt budget but must not push the
			// breaker further open.
			attemptsProcessedCounter.WithLabelValues(sender.ServiceName(), "circuit_open").Inc()
		} else {
			if err := breaker.RecordFailure(ctx); err != nil {
				c.logger.ErrorContext(ctx, "Failed to record breaker failure", "error", err, "provider", sender.ServiceName())
			}
			attemptsProcessedCounter.WithLabelValues(sender.ServiceName(), "transient").Inc()
		}

		maxAttempts := c.policy.MaxAttemptsFor(msg.Channel)
		if attempts >= maxAttempts {
			return c.deadLetter.Record(ctx, msg.ID, msg.Channel, msg.Payload, attempts, result.ErrorCode, result.ErrorMessage)
		}
		return c.reschedule(ctx, msg, attempts, result)

	default: // FailurePermanent
		lastError := fmt.Sprintf("%s: %s", result.ErrorCode, result.ErrorMessage)
		if err := c.messages.UpdateStatus(ctx, msg.ID, domain.MessageStatusFailed, &lastError); err != nil {
			return fmt.Errorf("failed to mark message failed: %w", err)
		}
		attemptsProcessedCounter.WithLabelValues(sender.ServiceName(), "permanent").Inc()
		return c.deadLetter.Record(ctx, msg.ID, msg.Channel, msg.Payload, attempts, result.ErrorCode, result.ErrorMessage)
	}
}

// send calls the provider behind the breaker gate. A closed door synthesizes a
// CIRCUIT_OPEN failure without touching the provider.
func (c *RetryCoordinator) send(ctx context.Context, sender domain.Sender, breaker *CircuitBreaker, intent domain.MessageIntent) (domain.SendResult, bool, error) {
	available, err := breaker.IsAvailable(ctx)
	if err != nil {
		return domain.SendResult{}, false, fmt.Errorf("circuit availability check failed: %w", err)
	}
	if !available {
		return domain.SendResult{
			Status:       domain.SendStatusFailed,
			ErrorCode:    domain.ErrCodeCircuitOpen,
			ErrorMessage: fmt.Sprintf("circuit open for provider %s", sender.ServiceName()),
		}, true, nil
	}

	result, sendErr := sender.Send(ctx, intent)
	if sendErr != nil {
		// A transport-level error is a transient failure the adapter could
		// not normalize itself.
		return domain.SendResult{
			Status:       domain.SendStatusFailed,
			ErrorCode:    "NETWORK_ERROR",
			ErrorMessage: sendErr.Error(),
		}, false, nil
	}
	return result, false, nil
}

func (c *RetryCoordinator) reschedule(ctx context.Context, msg *domain.OutboundMessage, attempts int, result domain.SendResult) error {
	delay := c.backoff.Delay(attempts-1, msg.LastDelay)
	notBefore := c.now().UTC().Add(delay)

	if err := c.messages.Requeue(ctx, msg.ID, delay); err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}
	if err := c.attempts.Schedule(ctx, msg.ID, notBefore); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	c.logger.InfoContext(ctx, "Retry scheduled",
		"message_id", msg.ID, "attempts", attempts, "delay", delay, "error_code", result.ErrorCode)
	return nil
}
