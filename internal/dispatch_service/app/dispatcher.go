package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

// CreateOutcome makes the creation branches first-class instead of routing the
// uniqueness conflict through caught-error flow.
type CreateOutcome int

const (
	// OutcomeCreated means this call inserted the row.
	OutcomeCreated CreateOutcome = iota
	// OutcomeConflictResolved means a concurrent creator won the uniqueness
	// race and the returned id belongs to its row.
	OutcomeConflictResolved
	// OutcomeError accompanies a non-nil error so failures never alias
	// OutcomeCreated.
	OutcomeError
)

// Dispatcher is the idempotent entry point of the reliability engine. One
// instance is constructed with its dependencies injected; there is no ambient
// global state.
type Dispatcher struct {
	messages        domain.MessageRepository
	attempts        domain.ScheduledAttemptRepository
	events          domain.EventSink
	logger          *slog.Logger
	maxPayloadBytes int
	now             func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	messages domain.MessageRepository,
	attempts domain.ScheduledAttemptRepository,
	events domain.EventSink,
	logger *slog.Logger,
	maxPayloadBytes int,
) *Dispatcher {
	return &Dispatcher{
		messages:        messages,
		attempts:        attempts,
		events:          events,
		logger:          logger.With("service", "dispatcher"),
		maxPayloadBytes: maxPayloadBytes,
		now:             time.Now,
	}
}

// Dispatch accepts a message intent and returns the canonical message id for
// it. Concurrent calls sharing an idempotency key converge on one id; calls
// for a key whose message already succeeded or is in flight are no-ops.
func (d *Dispatcher) Dispatch(ctx context.Context, intent domain.MessageIntent) (string, error) {
	payload, err := intent.Serialize()
	if err != nil {
		return "", err
	}
	if d.maxPayloadBytes > 0 && len(payload) > d.maxPayloadBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", domain.ErrPayloadTooLarge, len(payload), d.maxPayloadBytes)
	}

	if intent.IdempotencyKey != "" {
		existing, err := d.messages.FindByIdempotencyKey(ctx, intent.IdempotencyKey)
		if err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
			return "", fmt.Errorf("idempotency lookup failed: %w", err)
		}
		if existing != nil {
			// Only failed rows re-enter through dispatch; dead_lettered is
			// terminal and leaves only via operator replay, so it is skipped
			// like the in-flight statuses.
			if existing.Status != domain.MessageStatusFailed {
				d.logger.InfoContext(ctx, "Duplicate dispatch skipped",
					"message_id", existing.ID, "idempotency_key", intent.IdempotencyKey, "status", existing.Status)
				dispatchRequestsCounter.WithLabelValues(string(intent.Channel), "duplicate_skipped").Inc()
				d.events.Emit(ctx, domain.Event{
					Type:       domain.EventDuplicateSkipped,
					MessageID:  existing.ID,
					Channel:    intent.Channel,
					Attributes: map[string]string{"idempotency_key": intent.IdempotencyKey},
					OccurredAt: d.now().UTC(),
				})
				return existing.ID, nil
			}

			// Failed rows are reused in place: same id, fresh payload,
			// attempt budget restarted.
			if err := d.messages.ResetForRetry(ctx, existing.ID, payload); err != nil {
				return "", fmt.Errorf("failed to reset message for retry: %w", err)
			}
			d.logger.InfoContext(ctx, "Retry scheduled for previously failed message",
				"message_id", existing.ID, "idempotency_key", intent.IdempotencyKey)
			dispatchRequestsCounter.WithLabelValues(string(intent.Channel), "retry_reset").Inc()
			d.events.Emit(ctx, domain.Event{
				Type:       domain.EventRetryScheduled,
				MessageID:  existing.ID,
				Channel:    intent.Channel,
				Attributes: map[string]string{"idempotency_key": intent.IdempotencyKey},
				OccurredAt: d.now().UTC(),
			})
			if err := d.scheduleFirstAttempt(ctx, existing.ID, intent); err != nil {
				return "", err
			}
			return existing.ID, nil
		}
	}

	id, outcome, err := d.create(ctx, intent, payload)
	if err != nil {
		dispatchRequestsCounter.WithLabelValues(string(intent.Channel), "error").Inc()
		return "", err
	}
	if outcome == OutcomeConflictResolved {
		// The winner already scheduled its attempt; do not schedule another.
		dispatchRequestsCounter.WithLabelValues(string(intent.Channel), "conflict_resolved").Inc()
		return id, nil
	}

	dispatchRequestsCounter.WithLabelValues(string(intent.Channel), "created").Inc()
	if err := d.scheduleFirstAttempt(ctx, id, intent); err != nil {
		return "", err
	}
	return id, nil
}

// create inserts the message row, converging on the concurrent winner's id if
// the storage uniqueness constraint rejects ours. Any other storage error
// propagates unmodified.
func (d *Dispatcher) create(ctx context.Context, intent domain.MessageIntent, payload []byte) (string, CreateOutcome, error) {
	now := d.now().UTC()
	msg := &domain.OutboundMessage{
		ID:        uuid.NewString(),
		Channel:   intent.Channel,
		Recipient: intent.Recipient,
		Payload:   payload,
		Status:    domain.MessageStatusQueued,
		QueuedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if intent.IdempotencyKey != "" {
		key := intent.IdempotencyKey
		msg.IdempotencyKey = &key
	}

	err := d.messages.Create(ctx, msg)
	if err == nil {
		return msg.ID, OutcomeCreated, nil
	}
	if !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		return "", OutcomeError, fmt.Errorf("failed to create outbound message: %w", err)
	}

	// Lost the creation race: the constraint is the source of truth, so the
	// winner's row must exist now.
	winner, reqErr := d.messages.FindByIdempotencyKey(ctx, intent.IdempotencyKey)
	if reqErr != nil {
		return "", OutcomeError, fmt.Errorf("conflict re-query failed: %w", reqErr)
	}
	d.logger.InfoContext(ctx, "Creation conflict resolved to existing message",
		"message_id", winner.ID, "idempotency_key", intent.IdempotencyKey)
	d.events.Emit(ctx, domain.Event{
		Type:       domain.EventCreateConflict,
		MessageID:  winner.ID,
		Channel:    intent.Channel,
		Attributes: map[string]string{"idempotency_key": intent.IdempotencyKey},
		OccurredAt: d.now().UTC(),
	})
	return winner.ID, OutcomeConflictResolved, nil
}

// scheduleFirstAttempt enqueues the initial send. A future SendAt delays
// visibility until then, best-effort; everything else is due immediately.
func (d *Dispatcher) scheduleFirstAttempt(ctx context.Context, messageID string, intent domain.MessageIntent) error {
	notBefore := d.now().UTC()
	if intent.SendAt != nil && intent.SendAt.After(notBefore) {
		notBefore = intent.SendAt.UTC()
	}
	if err := d.attempts.Schedule(ctx, messageID, notBefore); err != nil {
		return fmt.Errorf("failed to schedule send attempt: %w", err)
	}
	return nil
}
