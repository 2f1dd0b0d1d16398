package verification

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// Archive accumulates per-request verification records across partial
// completions (greylist splits) until the full original email list has
// been accounted for. The archive table is the source of truth; every
// merge writes through before the in-memory copy changes.
type Archive struct {
	repo ArchiveRepository

	mu      sync.Mutex
	entries map[string]*domain.ArchiveEntry
}

// NewArchive constructs an empty Archive.
func NewArchive(repo ArchiveRepository) *Archive {
	return &Archive{repo: repo, entries: make(map[string]*domain.ArchiveEntry)}
}

// Init rebuilds in-memory state from the archive table.
func (a *Archive) Init(ctx context.Context) error {
	rows, err := a.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("archive init: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range rows {
		row := rows[i]
		if row.RequestID == "" || len(row.Emails) == 0 || row.Result == nil {
			// Invalid per validity check — leave it out and let recovery's
			// broader pass decide the request's final disposition.
			continue
		}
		a.entries[row.RequestID] = &row
	}
	logger.Info("archive restored", "entries", len(a.entries))
	return nil
}

// Ensure lazily creates request_id's accumulator the first time a partial
// result arrives for it, seeding it with the request's original email list.
func (a *Archive) Ensure(ctx context.Context, requestID string, emails []string, responseURL string) error {
	a.mu.Lock()
	_, exists := a.entries[requestID]
	a.mu.Unlock()
	if exists {
		return nil
	}

	entry := domain.ArchiveEntry{
		RequestID:   requestID,
		Emails:      append([]string(nil), emails...),
		Result:      make(map[string]domain.VerificationRecord),
		ResponseURL: responseURL,
	}
	if err := a.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("archive ensure: %w", err)
	}
	a.mu.Lock()
	a.entries[requestID] = &entry
	a.mu.Unlock()
	return nil
}

// Merge folds newRecords into request_id's accumulator, keeping — per
// email — whichever record has the newer VerifiedAt timestamp.
func (a *Archive) Merge(ctx context.Context, requestID string, newRecords []domain.VerificationRecord) error {
	a.mu.Lock()
	entry, ok := a.entries[requestID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("archive merge: %s: %w", requestID, ErrNotFound)
	}

	a.mu.Lock()
	merged := make(map[string]domain.VerificationRecord, len(entry.Result))
	for k, v := range entry.Result {
		merged[k] = v
	}
	for _, rec := range newRecords {
		if existing, ok := merged[rec.Email]; !ok || rec.VerifiedAt.After(existing.VerifiedAt) {
			merged[rec.Email] = rec
		}
	}
	updated := *entry
	updated.Result = merged
	a.mu.Unlock()

	if err := a.repo.Upsert(ctx, updated); err != nil {
		return fmt.Errorf("archive merge upsert: %w", err)
	}

	a.mu.Lock()
	a.entries[requestID] = &updated
	a.mu.Unlock()
	return nil
}

// Remaining returns the emails from the original list that have no record
// in the accumulator yet. Greylisted emails still awaiting a retry have no
// record, so they are part of the result.
func (a *Archive) Remaining(requestID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[requestID]
	if !ok {
		return nil
	}
	var remaining []string
	for _, email := range entry.Emails {
		if _, done := entry.Result[email]; !done {
			remaining = append(remaining, email)
		}
	}
	return remaining
}

// Snapshot returns a copy of request_id's accumulated entry, if any.
func (a *Archive) Snapshot(requestID string) (domain.ArchiveEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[requestID]
	if !ok {
		return domain.ArchiveEntry{}, false
	}
	cp := *entry
	cp.Result = make(map[string]domain.VerificationRecord, len(entry.Result))
	for k, v := range entry.Result {
		cp.Result[k] = v
	}
	return cp, true
}

// Finalize deletes request_id's accumulator once its Results record has
// been persisted.
func (a *Archive) Finalize(ctx context.Context, requestID string) error {
	if err := a.repo.Delete(ctx, requestID); err != nil {
		return fmt.Errorf("archive finalize: %w", err)
	}
	a.mu.Lock()
	delete(a.entries, requestID)
	a.mu.Unlock()
	return nil
}
