package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// VerifyGreylistRepo implements verification.GreylistRepository against
// PostgreSQL.
type VerifyGreylistRepo struct{ db *sql.DB }

// NewVerifyGreylistRepo creates a Postgres-backed anti-greylisting repository.
func NewVerifyGreylistRepo(db *sql.DB) *VerifyGreylistRepo { return &VerifyGreylistRepo{db: db} }

func (r *VerifyGreylistRepo) Upsert(ctx context.Context, e domain.GreylistEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verify_greylist (request_id, emails, retry_count, last_tried_at, max_retries_reached, returned)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO UPDATE SET
			emails = $2, retry_count = $3, last_tried_at = $4, max_retries_reached = $5, returned = $6
	`, e.RequestID, pq.Array(e.Emails), e.RetryCount, e.LastTriedAt, e.MaxRetriesReached, e.Returned)
	if err != nil {
		return fmt.Errorf("verify greylist upsert: %w", err)
	}
	return nil
}

func (r *VerifyGreylistRepo) Get(ctx context.Context, requestID string) (*domain.GreylistEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT request_id, emails, retry_count, last_tried_at, max_retries_reached, returned
		FROM verify_greylist
		WHERE request_id = $1
	`, requestID)

	entry, err := scanGreylistEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify greylist get: %w", err)
	}
	return entry, nil
}

func (r *VerifyGreylistRepo) Delete(ctx context.Context, requestID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM verify_greylist WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("verify greylist delete: %w", err)
	}
	return nil
}

func (r *VerifyGreylistRepo) LoadAll(ctx context.Context) ([]domain.GreylistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id, emails, retry_count, last_tried_at, max_retries_reached, returned
		FROM verify_greylist
	`)
	if err != nil {
		return nil, fmt.Errorf("verify greylist load all: %w", err)
	}
	defer rows.Close()

	var out []domain.GreylistEntry
	for rows.Next() {
		entry, err := scanGreylistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("verify greylist scan: %w", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func (r *VerifyGreylistRepo) SetReturned(ctx context.Context, requestID string, returned bool) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE verify_greylist SET returned = $2 WHERE request_id = $1`,
		requestID, returned,
	); err != nil {
		return fmt.Errorf("verify greylist set returned: %w", err)
	}
	return nil
}

func scanGreylistEntry(row rowScanner) (*domain.GreylistEntry, error) {
	var entry domain.GreylistEntry
	var emails pq.StringArray
	if err := row.Scan(&entry.RequestID, &emails, &entry.RetryCount, &entry.LastTriedAt, &entry.MaxRetriesReached, &entry.Returned); err != nil {
		return nil, err
	}
	entry.Emails = []string(emails)
	return &entry, nil
}
