package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// VerifyQueueRepo implements verification.QueueRepository against PostgreSQL.
// The table is the source of truth for the durable FIFO.
type VerifyQueueRepo struct{ db *sql.DB }

// NewVerifyQueueRepo creates a Postgres-backed verification queue repository.
func NewVerifyQueueRepo(db *sql.DB) *VerifyQueueRepo { return &VerifyQueueRepo{db: db} }

func (r *VerifyQueueRepo) Insert(ctx context.Context, req domain.VerifyRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verify_queue (request_id, emails, response_url, created_at)
		VALUES ($1, $2, $3, NOW())
	`, req.RequestID, pq.Array(req.Emails), req.ResponseURL)
	if err != nil {
		return fmt.Errorf("verify queue insert: %w", err)
	}
	return nil
}

func (r *VerifyQueueRepo) Delete(ctx context.Context, requestID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM verify_queue WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("verify queue delete: %w", err)
	}
	return nil
}

func (r *VerifyQueueRepo) LoadAll(ctx context.Context) ([]domain.VerifyRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id, emails, response_url
		FROM verify_queue
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("verify queue load all: %w", err)
	}
	defer rows.Close()

	var out []domain.VerifyRequest
	for rows.Next() {
		var req domain.VerifyRequest
		var emails pq.StringArray
		var responseURL sql.NullString
		if err := rows.Scan(&req.RequestID, &emails, &responseURL); err != nil {
			return nil, fmt.Errorf("verify queue scan: %w", err)
		}
		req.Emails = []string(emails)
		req.ResponseURL = responseURL.String
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *VerifyQueueRepo) Exists(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM verify_queue WHERE request_id = $1)`,
		requestID,
	).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("verify queue exists: %w", err)
	}
	return exists, nil
}
