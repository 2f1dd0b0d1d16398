package verification

import (
	"context"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// QueueRepository mirrors the Queue component's in-memory state to the
// queue table. The queue table is the source of truth: Queue.Add
// writes through before acknowledging, and startup reads it back ordered
// by insertion id.
type QueueRepository interface {
	// Insert appends a row. Implementations do not map a duplicate
	// request_id to ErrDuplicateRequest; Queue.Add rejects duplicates before
	// calling Insert.
	Insert(ctx context.Context, req domain.VerifyRequest) error
	// Delete removes a row by request_id. Idempotent.
	Delete(ctx context.Context, requestID string) error
	// LoadAll returns every row ordered by insertion id, for startup rebuild.
	// Rows with null/empty fields are NOT filtered here — the caller deletes
	// them after classifying them.
	LoadAll(ctx context.Context) ([]domain.VerifyRequest, error)
	// Exists reports whether request_id is currently queued.
	Exists(ctx context.Context, requestID string) (bool, error)
}

// ResultsRepository persists the Results record.
type ResultsRepository interface {
	Create(ctx context.Context, r *domain.VerifyResults) error
	Get(ctx context.Context, requestID string) (*domain.VerifyResults, error)
	Update(ctx context.Context, r *domain.VerifyResults) error
	// ListNonTerminal returns Results rows with status in {processing,
	// queued}, used by startup recovery's zombie/orphan passes.
	ListNonTerminal(ctx context.Context) ([]domain.VerifyResults, error)
}

// ArchiveRepository persists the Archive map.
type ArchiveRepository interface {
	Upsert(ctx context.Context, e domain.ArchiveEntry) error
	Get(ctx context.Context, requestID string) (*domain.ArchiveEntry, error)
	Delete(ctx context.Context, requestID string) error
	LoadAll(ctx context.Context) ([]domain.ArchiveEntry, error)
}

// GreylistRepository persists the Anti-Greylisting table.
type GreylistRepository interface {
	Upsert(ctx context.Context, e domain.GreylistEntry) error
	Get(ctx context.Context, requestID string) (*domain.GreylistEntry, error)
	Delete(ctx context.Context, requestID string) error
	LoadAll(ctx context.Context) ([]domain.GreylistEntry, error)
	// SetReturned flips the returned flag in the database. Must be called
	// before the in-memory flip.
	SetReturned(ctx context.Context, requestID string, returned bool) error
}

// SlotRepository persists the worker-slot array.
// Database leads memory on every transition: callers write here before
// mutating the in-memory slot, and clear here before clearing in-memory.
type SlotRepository interface {
	Assign(ctx context.Context, slotIndex int, requestID string) error
	Clear(ctx context.Context, slotIndex int) error
	LoadAll(ctx context.Context) (map[int]string, error) // slotIndex -> requestID
}

// RequestIDVisibility reports where request_id is tracked externally to
// the component calling it — each orphan check during recovery asks
// these three sources before concluding a Results row is abandoned.
type RequestIDVisibility struct {
	InQueue        bool
	InWorkerSlot   bool
	SlotIndex      int
	GreylistActive bool // entry exists with returned=false
	GreylistReady  bool // entry exists with returned=true
}

// clock abstracts time.Now so tests can control greylist tick timing and
// zombie-expiry without sleeping.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
