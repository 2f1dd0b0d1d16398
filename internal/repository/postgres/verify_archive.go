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

// VerifyArchiveRepo implements verification.ArchiveRepository against
// PostgreSQL.
type VerifyArchiveRepo struct{ db *sql.DB }

// NewVerifyArchiveRepo creates a Postgres-backed archive repository.
func NewVerifyArchiveRepo(db *sql.DB) *VerifyArchiveRepo { return &VerifyArchiveRepo{db: db} }

func (r *VerifyArchiveRepo) Upsert(ctx context.Context, e domain.ArchiveEntry) error {
	resultRaw, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("verify archive marshal: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO verify_archive (request_id, emails, result, response_url, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (request_id) DO UPDATE SET
			emails = $2, result = $3, response_url = $4, updated_at = NOW()
	`, e.RequestID, pq.Array(e.Emails), resultRaw, e.ResponseURL)
	if err != nil {
		return fmt.Errorf("verify archive upsert: %w", err)
	}
	return nil
}

func (r *VerifyArchiveRepo) Get(ctx context.Context, requestID string) (*domain.ArchiveEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT request_id, emails, result, response_url
		FROM verify_archive
		WHERE request_id = $1
	`, requestID)

	entry, err := scanArchiveEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify archive get: %w", err)
	}
	return entry, nil
}

func (r *VerifyArchiveRepo) Delete(ctx context.Context, requestID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM verify_archive WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("verify archive delete: %w", err)
	}
	return nil
}

func (r *VerifyArchiveRepo) LoadAll(ctx context.Context) ([]domain.ArchiveEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id, emails, result, response_url FROM verify_archive
	`)
	if err != nil {
		return nil, fmt.Errorf("verify archive load all: %w", err)
	}
	defer rows.Close()

	var out []domain.ArchiveEntry
	for rows.Next() {
		entry, err := scanArchiveEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("verify archive scan: %w", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func scanArchiveEntry(row rowScanner) (*domain.ArchiveEntry, error) {
	var entry domain.ArchiveEntry
	var emails pq.StringArray
	var resultRaw []byte
	var responseURL sql.NullString

	if err := row.Scan(&entry.RequestID, &emails, &resultRaw, &responseURL); err != nil {
		return nil, err
	}
	entry.Emails = []string(emails)
	entry.ResponseURL = responseURL.String
	entry.Result = make(map[string]domain.VerificationRecord)
	if len(resultRaw) > 0 {
		if err := json.Unmarshal(resultRaw, &entry.Result); err != nil {
			return nil, fmt.Errorf("unmarshal archive result: %w", err)
		}
	}
	return &entry, nil
}
