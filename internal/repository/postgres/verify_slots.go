package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// VerifySlotsRepo implements verification.SlotRepository against
// PostgreSQL. One row per worker slot; the table is the source of truth
// for the fixed-size worker array.
type VerifySlotsRepo struct{ db *sql.DB }

// NewVerifySlotsRepo creates a Postgres-backed worker-slot repository.
func NewVerifySlotsRepo(db *sql.DB) *VerifySlotsRepo { return &VerifySlotsRepo{db: db} }

func (r *VerifySlotsRepo) Assign(ctx context.Context, slotIndex int, requestID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verify_worker_slots (slot_index, request_id, assigned_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (slot_index) DO UPDATE SET request_id = $2, assigned_at = NOW()
	`, slotIndex, requestID)
	if err != nil {
		return fmt.Errorf("verify slot assign: %w", err)
	}
	return nil
}

func (r *VerifySlotsRepo) Clear(ctx context.Context, slotIndex int) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM verify_worker_slots WHERE slot_index = $1`,
		slotIndex,
	); err != nil {
		return fmt.Errorf("verify slot clear: %w", err)
	}
	return nil
}

func (r *VerifySlotsRepo) LoadAll(ctx context.Context) (map[int]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT slot_index, request_id FROM verify_worker_slots`)
	if err != nil {
		return nil, fmt.Errorf("verify slot load all: %w", err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var idx int
		var requestID string
		if err := rows.Scan(&idx, &requestID); err != nil {
			return nil, fmt.Errorf("verify slot scan: %w", err)
		}
		out[idx] = requestID
	}
	return out, rows.Err()
}
