package domain

import (
	"context"
	"time"
)

// MessageRepository persists OutboundMessage rows. The backing store must
// enforce a uniqueness constraint on idempotency_key; the dispatcher's conflict
// resolution depends on Create returning ErrDuplicateIdempotencyKey for exactly
// that violation and nothing else.
type MessageRepository interface {
	Create(ctx context.Context, msg *OutboundMessage) error
	GetByID(ctx context.Context, id string) (*OutboundMessage, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*OutboundMessage, error)
	UpdateStatus(ctx context.Context, id string, status MessageStatus, lastError *string) error
	// ClaimForSending atomically moves a queued message to sending, returning
	// false when the message is no longer queued. The predicate lives in the
	// store, not the application, so two workers holding the same attempt can
	// never both reach the provider.
	ClaimForSending(ctx context.Context, id string) (bool, error)
	// Requeue moves a failed message back to queued and records the backoff
	// delay chosen for it, so the next attempt can derive its delay from the
	// previous one.
	Requeue(ctx context.Context, id string, delay time.Duration) error
	// ResetForRetry moves a message back to queued with zero attempts, a
	// refreshed payload and no delay history, used by retry-after-failure
	// dispatch and replay.
	ResetForRetry(ctx context.Context, id string, payload []byte) error
	// IncrementAttempts bumps the attempt counter and returns the new count.
	IncrementAttempts(ctx context.Context, id string) (int, error)
}

// DeadLetterRepository persists terminal failures.
type DeadLetterRepository interface {
	Create(ctx context.Context, entry *DeadLetterEntry) error
	GetByID(ctx context.Context, id string) (*DeadLetterEntry, error)
	List(ctx context.Context, limit int) ([]*DeadLetterEntry, error)
	Delete(ctx context.Context, id string) error
}

// ScheduledAttempt is one pending send attempt with at-least-delay visibility:
// the poller will not hand it to a worker before NotBefore, with no guarantee
// on how soon after.
type ScheduledAttempt struct {
	ID        string    `json:"id"` // UUID
	MessageID string    `json:"message_id"`
	NotBefore time.Time `json:"not_before"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduledAttemptRepository is the delay primitive behind attempt scheduling.
type ScheduledAttemptRepository interface {
	Schedule(ctx context.Context, messageID string, notBefore time.Time) error
	// AcquireDue claims up to limit attempts whose NotBefore has passed,
	// deleting them so concurrent pollers never double-claim. Returns
	// ErrNoDueAttempts when nothing is due.
	AcquireDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledAttempt, error)
}
