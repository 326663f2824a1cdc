package domain

import "errors"

var (
	// ErrInvalidIntent marks construction-time validation failures. Never
	// retried and never persisted.
	ErrInvalidIntent = errors.New("invalid message intent")

	// ErrPayloadTooLarge is returned before any persistence attempt when the
	// serialized intent exceeds the configured maximum.
	ErrPayloadTooLarge = errors.New("serialized intent exceeds maximum payload size")

	// ErrMessageNotFound is returned by repositories when no row matches.
	ErrMessageNotFound = errors.New("outbound message not found")

	// ErrDuplicateIdempotencyKey is the storage layer's uniqueness-constraint
	// violation, surfaced so the dispatcher can converge on the winning row.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")

	// ErrDeadLetterNotFound is returned when a dead-letter entry id is unknown.
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")

	// ErrNoDueAttempts signals an empty poll cycle, not a failure.
	ErrNoDueAttempts = errors.New("no due attempts")
)
