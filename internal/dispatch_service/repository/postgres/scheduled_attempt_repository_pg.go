package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

type pgScheduledAttemptRepository struct {
	db *pgxpool.Pool
}

// NewPgScheduledAttemptRepository creates a ScheduledAttemptRepository backed
// by PostgreSQL.
func NewPgScheduledAttemptRepository(db *pgxpool.Pool) domain.ScheduledAttemptRepository {
	return &pgScheduledAttemptRepository{db: db}
}

func (r *pgScheduledAttemptRepository) Schedule(ctx context.Context, messageID string, notBefore time.Time) error {
	query := `
		INSERT INTO scheduled_attempts (id, message_id, not_before, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(ctx, query, uuid.NewString(), messageID, notBefore, time.Now().UTC())
	return err
}

func (r *pgScheduledAttemptRepository) AcquireDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledAttempt, error) {
	// Delete-returning with SKIP LOCKED so concurrent pollers claim disjoint
	// batches and each due attempt is handed out exactly once.
	query := `
		DELETE FROM scheduled_attempts
		WHERE id IN (
			SELECT id FROM scheduled_attempts
			WHERE not_before <= $1
			ORDER BY not_before ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, message_id, not_before, created_at
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*domain.ScheduledAttempt
	for rows.Next() {
		attempt := &domain.ScheduledAttempt{}
		if err := rows.Scan(&attempt.ID, &attempt.MessageID, &attempt.NotBefore, &attempt.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, domain.ErrNoDueAttempts
	}
	return attempts, nil
}
