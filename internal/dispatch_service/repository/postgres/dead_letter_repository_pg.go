package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

type pgDeadLetterRepository struct {
	db *pgxpool.Pool
}

// NewPgDeadLetterRepository creates a DeadLetterRepository backed by PostgreSQL.
func NewPgDeadLetterRepository(db *pgxpool.Pool) domain.DeadLetterRepository {
	return &pgDeadLetterRepository{db: db}
}

const deadLetterColumns = `id, message_id, channel, payload, attempts, error_code, error_message, trace, created_at`

func (r *pgDeadLetterRepository) Create(ctx context.Context, entry *domain.DeadLetterEntry) error {
	query := `
		INSERT INTO dead_letter_entries (
			id, message_id, channel, payload, attempts, error_code, error_message, trace, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.MessageID, entry.Channel, entry.Payload, entry.Attempts,
		entry.ErrorCode, entry.ErrorMessage, entry.Trace, entry.CreatedAt,
	)
	return err
}

func (r *pgDeadLetterRepository) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_entries WHERE id = $1`
	entry := &domain.DeadLetterEntry{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&entry.ID, &entry.MessageID, &entry.Channel, &entry.Payload, &entry.Attempts,
		&entry.ErrorCode, &entry.ErrorMessage, &entry.Trace, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeadLetterNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (r *pgDeadLetterRepository) List(ctx context.Context, limit int) ([]*domain.DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_entries ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.DeadLetterEntry
	for rows.Next() {
		entry := &domain.DeadLetterEntry{}
		err := rows.Scan(
			&entry.ID, &entry.MessageID, &entry.Channel, &entry.Payload, &entry.Attempts,
			&entry.ErrorCode, &entry.ErrorMessage, &entry.Trace, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *pgDeadLetterRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM dead_letter_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDeadLetterNotFound
	}
	return nil
}
