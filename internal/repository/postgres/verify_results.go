package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// VerifyResultsRepo implements verification.ResultsRepository against
// PostgreSQL. Per-email records are stored as a jsonb column; everything
// else is a plain column so startup recovery can filter on status cheaply.
type VerifyResultsRepo struct{ db *sql.DB }

// NewVerifyResultsRepo creates a Postgres-backed verification results repository.
func NewVerifyResultsRepo(db *sql.DB) *VerifyResultsRepo { return &VerifyResultsRepo{db: db} }

func (r *VerifyResultsRepo) Create(ctx context.Context, res *domain.VerifyResults) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verify_results (
			request_id, status, verifying, emails, total_emails, completed_emails,
			results, greylist_found, blacklist_found, webhook_sent, webhook_attempts,
			response_url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		res.RequestID, res.Status, res.Verifying, pq.Array(res.Emails), res.TotalEmails, res.CompletedEmails,
		mustMarshalRecords(res.Results), res.GreylistFound, res.BlacklistFound, res.WebhookSent, res.WebhookAttempts,
		res.ResponseURL, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("verify results create: %w", err)
	}
	return nil
}

func (r *VerifyResultsRepo) Get(ctx context.Context, requestID string) (*domain.VerifyResults, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT request_id, status, verifying, emails, total_emails, completed_emails,
		       results, greylist_found, blacklist_found, webhook_sent, webhook_attempts,
		       response_url, created_at, updated_at, completed_at
		FROM verify_results
		WHERE request_id = $1
	`, requestID)

	res, err := scanVerifyResults(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify results get: %w", err)
	}
	return res, nil
}

func (r *VerifyResultsRepo) Update(ctx context.Context, res *domain.VerifyResults) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE verify_results SET
			status = $2, verifying = $3, emails = $4, total_emails = $5, completed_emails = $6,
			results = $7, greylist_found = $8, blacklist_found = $9, webhook_sent = $10, webhook_attempts = $11,
			response_url = $12, updated_at = $13, completed_at = $14
		WHERE request_id = $1
	`,
		res.RequestID, res.Status, res.Verifying, pq.Array(res.Emails), res.TotalEmails, res.CompletedEmails,
		mustMarshalRecords(res.Results), res.GreylistFound, res.BlacklistFound, res.WebhookSent, res.WebhookAttempts,
		res.ResponseURL, res.UpdatedAt, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("verify results update: %w", err)
	}
	return nil
}

func (r *VerifyResultsRepo) ListNonTerminal(ctx context.Context) ([]domain.VerifyResults, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id, status, verifying, emails, total_emails, completed_emails,
		       results, greylist_found, blacklist_found, webhook_sent, webhook_attempts,
		       response_url, created_at, updated_at, completed_at
		FROM verify_results
		WHERE status IN ($1, $2)
	`, domain.VerifyStatusQueued, domain.VerifyStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("verify results list non-terminal: %w", err)
	}
	defer rows.Close()

	var out []domain.VerifyResults
	for rows.Next() {
		res, err := scanVerifyResults(rows)
		if err != nil {
			return nil, fmt.Errorf("verify results scan: %w", err)
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerifyResults(row rowScanner) (*domain.VerifyResults, error) {
	var res domain.VerifyResults
	var emails pq.StringArray
	var resultsRaw []byte
	var responseURL sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(
		&res.RequestID, &res.Status, &res.Verifying, &emails, &res.TotalEmails, &res.CompletedEmails,
		&resultsRaw, &res.GreylistFound, &res.BlacklistFound, &res.WebhookSent, &res.WebhookAttempts,
		&responseURL, &res.CreatedAt, &res.UpdatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	res.Emails = []string(emails)
	res.ResponseURL = responseURL.String
	if completedAt.Valid {
		res.CompletedAt = &completedAt.Time
	}
	if len(resultsRaw) > 0 {
		if err := json.Unmarshal(resultsRaw, &res.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return &res, nil
}

func mustMarshalRecords(records []domain.VerificationRecord) []byte {
	if records == nil {
		records = []domain.VerificationRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		// Records are always plain structs produced by this package; a
		// marshal failure here means a programming error, not bad input.
		return []byte("[]")
	}
	return raw
}
