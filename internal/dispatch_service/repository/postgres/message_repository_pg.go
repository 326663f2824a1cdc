package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

type pgMessageRepository struct {
	db *pgxpool.Pool
}

// NewPgMessageRepository creates a MessageRepository backed by PostgreSQL. The
// outbound_messages table carries a unique index on idempotency_key; that
// constraint, not application logic, is what makes concurrent creation safe.
func NewPgMessageRepository(db *pgxpool.Pool) domain.MessageRepository {
	return &pgMessageRepository{db: db}
}

const messageColumns = `id, channel, recipient, payload, status, idempotency_key,
       attempts, last_error, last_delay_ms, queued_at, created_at, updated_at`

func (r *pgMessageRepository) Create(ctx context.Context, msg *domain.OutboundMessage) error {
	query := `
		INSERT INTO outbound_messages (
			id, channel, recipient, payload, status, idempotency_key,
			attempts, last_error, last_delay_ms, queued_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.Channel, msg.Recipient, msg.Payload, msg.Status, msg.IdempotencyKey,
		msg.Attempts, msg.LastError, msg.LastDelay.Milliseconds(), msg.QueuedAt, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

func (r *pgMessageRepository) GetByID(ctx context.Context, id string) (*domain.OutboundMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_messages WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *pgMessageRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.OutboundMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM outbound_messages WHERE idempotency_key = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, key))
}

func (r *pgMessageRepository) scanOne(row pgx.Row) (*domain.OutboundMessage, error) {
	msg := &domain.OutboundMessage{}
	var lastDelayMS int64
	err := row.Scan(
		&msg.ID, &msg.Channel, &msg.Recipient, &msg.Payload, &msg.Status, &msg.IdempotencyKey,
		&msg.Attempts, &msg.LastError, &lastDelayMS, &msg.QueuedAt, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	msg.LastDelay = time.Duration(lastDelayMS) * time.Millisecond
	return msg, nil
}

func (r *pgMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus, lastError *string) error {
	now := time.Now().UTC()
	query := `
		UPDATE outbound_messages
		SET status = $2, last_error = COALESCE($3, last_error), updated_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, status, lastError, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgMessageRepository) ClaimForSending(ctx context.Context, id string) (bool, error) {
	// The status predicate makes the claim atomic: of any number of workers
	// holding an attempt for this message, exactly one sees a row update.
	query := `
		UPDATE outbound_messages
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, id, domain.MessageStatusSending, time.Now().UTC(), domain.MessageStatusQueued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgMessageRepository) Requeue(ctx context.Context, id string, delay time.Duration) error {
	query := `
		UPDATE outbound_messages
		SET status = $2, last_delay_ms = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, domain.MessageStatusQueued, delay.Milliseconds(), time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgMessageRepository) ResetForRetry(ctx context.Context, id string, payload []byte) error {
	now := time.Now().UTC()
	query := `
		UPDATE outbound_messages
		SET status = $2, payload = $3, attempts = 0, last_error = NULL, last_delay_ms = 0,
		    queued_at = $4, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, domain.MessageStatusQueued, payload, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgMessageRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE outbound_messages
		SET attempts = attempts + 1, updated_at = $2
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	err := r.db.QueryRow(ctx, query, id, time.Now().UTC()).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrMessageNotFound
		}
		return 0, err
	}
	return attempts, nil
}
