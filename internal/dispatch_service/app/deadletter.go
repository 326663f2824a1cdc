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

// DeadLetterRecorder captures terminal send failures and replays them on
// operator request. Record is not guarded against double-invocation; the retry
// coordinator's state machine reaches the dead-letter branch at most once per
// terminal failure.
type DeadLetterRecorder struct {
	entries  domain.DeadLetterRepository
	messages domain.MessageRepository
	attempts domain.ScheduledAttemptRepository
	events   domain.EventSink
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeadLetterRecorder creates a DeadLetterRecorder.
func NewDeadLetterRecorder(
	entries domain.DeadLetterRepository,
	messages domain.MessageRepository,
	attempts domain.ScheduledAttemptRepository,
	events domain.EventSink,
	logger *slog.Logger,
) *DeadLetterRecorder {
	return &DeadLetterRecorder{
		entries:  entries,
		messages: messages,
		attempts: attempts,
		events:   events,
		logger:   logger.With("service", "dead_letter_recorder"),
		now:      time.Now,
	}
}

// Record persists the dead-letter entry and flips the originating message to
// dead_lettered.
func (r *DeadLetterRecorder) Record(ctx context.Context, messageID string, channel domain.Channel, payload []byte, attempts int, errorCode, errorMessage string) error {
	entry := &domain.DeadLetterEntry{
		ID:           uuid.NewString(),
		MessageID:    messageID,
		Channel:      channel,
		Payload:      payload,
		Attempts:     attempts,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.entries.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist dead letter entry: %w", err)
	}

	lastError := fmt.Sprintf("%s: %s", errorCode, errorMessage)
	if err := r.messages.UpdateStatus(ctx, messageID, domain.MessageStatusDeadLettered, &lastError); err != nil {
		return fmt.Errorf("failed to mark message dead lettered: %w", err)
	}

	r.logger.WarnContext(ctx, "Message dead lettered",
		"message_id", messageID, "entry_id", entry.ID, "channel", channel,
		"attempts", attempts, "error_code", errorCode)
	deadLetteredCounter.WithLabelValues(string(channel), errorCode).Inc()
	r.events.Emit(ctx, domain.Event{
		Type:      domain.EventDeadLettered,
		MessageID: messageID,
		Channel:   channel,
		Attributes: map[string]string{
			"entry_id":   entry.ID,
			"error_code": errorCode,
		},
		OccurredAt: r.now().UTC(),
	})
	return nil
}

// Replay resets the originating message from the entry's stored intent,
// re-enters the scheduling path, and deletes the entry. Deduplicating side
// effects on downstream systems beyond the original idempotency key is the
// caller's responsibility.
func (r *DeadLetterRecorder) Replay(ctx context.Context, entryID string) error {
	entry, err := r.entries.GetByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, domain.ErrDeadLetterNotFound) {
			return err
		}
		return fmt.Errorf("failed to load dead letter entry: %w", err)
	}

	intent, err := domain.DeserializeIntent(entry.Payload)
	if err != nil {
		return fmt.Errorf("dead letter entry %s payload is corrupt: %w", entry.ID, err)
	}

	if err := r.messages.ResetForRetry(ctx, entry.MessageID, entry.Payload); err != nil {
		return fmt.Errorf("failed to reset message for replay: %w", err)
	}

	notBefore := r.now().UTC()
	if intent.SendAt != nil && intent.SendAt.After(notBefore) {
		notBefore = intent.SendAt.UTC()
	}
	if err := r.attempts.Schedule(ctx, entry.MessageID, notBefore); err != nil {
		return fmt.Errorf("failed to schedule replay attempt: %w", err)
	}

	if err := r.entries.Delete(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to delete replayed dead letter entry: %w", err)
	}

	r.logger.InfoContext(ctx, "Dead letter entry replayed",
		"entry_id", entry.ID, "message_id", entry.MessageID, "channel", entry.Channel)
	return nil
}
