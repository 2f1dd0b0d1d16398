package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// AntiGreylistStore holds requests that received a 4xx temporary-refusal
// signal and schedules them for a bounded number of retries. The
// greylist table is the source of truth; every transition — push, tick,
// returned-flip — writes through before the in-memory copy changes.
type AntiGreylistStore struct {
	repo       GreylistRepository
	backoff    time.Duration
	maxRetries int
	clock      clock

	mu      sync.Mutex
	entries map[string]*domain.GreylistEntry
}

// NewAntiGreylistStore constructs an empty store. Call Init to rebuild from
// the greylist table at startup.
func NewAntiGreylistStore(repo GreylistRepository, backoff time.Duration, maxRetries int) *AntiGreylistStore {
	return &AntiGreylistStore{
		repo:       repo,
		backoff:    backoff,
		maxRetries: maxRetries,
		clock:      realClock{},
		entries:    make(map[string]*domain.GreylistEntry),
	}
}

// Init rebuilds in-memory state from the greylist table.
func (s *AntiGreylistStore) Init(ctx context.Context) error {
	rows, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("anti-greylist init: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range rows {
		row := rows[i]
		s.entries[row.RequestID] = &row
	}
	logger.Info("anti-greylist store ready", "entries", len(s.entries))
	return nil
}

// Push records a fresh greylist signal for request_id, or bumps its retry
// count if already present. Returns the updated entry, whose
// MaxRetriesReached reflects the new retry count.
func (s *AntiGreylistStore) Push(ctx context.Context, requestID string, emails []string) (*domain.GreylistEntry, error) {
	s.mu.Lock()
	existing, ok := s.entries[requestID]
	s.mu.Unlock()

	now := s.clock.Now()
	var entry domain.GreylistEntry
	if ok {
		entry = *existing
		entry.RetryCount++
		entry.LastTriedAt = now
		entry.Emails = emails
	} else {
		entry = domain.GreylistEntry{
			RequestID:   requestID,
			Emails:      emails,
			RetryCount:  1,
			LastTriedAt: now,
		}
	}
	entry.MaxRetriesReached = entry.RetryCount >= s.maxRetries

	if err := s.repo.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("anti-greylist push: %w", err)
	}

	s.mu.Lock()
	s.entries[requestID] = &entry
	s.mu.Unlock()

	logger.Info("anti-greylist push", "request_id", requestID, "retry_count", entry.RetryCount, "max_reached", entry.MaxRetriesReached)
	return &entry, nil
}

// Tick scans for entries whose backoff window has elapsed and flips
// returned=true in the database before memory.
// It returns the request_ids that became ready this tick.
func (s *AntiGreylistStore) Tick(ctx context.Context) ([]string, error) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []string
	for id, e := range s.entries {
		if e.Returned || e.MaxRetriesReached {
			continue
		}
		if now.Sub(e.LastTriedAt) >= s.backoff {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	var ready []string
	for _, id := range due {
		if err := s.repo.SetReturned(ctx, id, true); err != nil {
			logger.Error("anti-greylist set returned failed", "request_id", id, "error", err)
			continue
		}
		s.mu.Lock()
		if e, ok := s.entries[id]; ok {
			e.Returned = true
		}
		s.mu.Unlock()
		ready = append(ready, id)
	}
	return ready, nil
}

// PopReady removes and returns request_id's entry. The Controller calls it
// once the entry's retry budget is exhausted and its emails have been
// recorded as failed, so a later Tick never returns the request again.
func (s *AntiGreylistStore) PopReady(ctx context.Context, requestID string) (*domain.GreylistEntry, bool) {
	s.mu.Lock()
	entry, ok := s.entries[requestID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	if err := s.repo.Delete(ctx, requestID); err != nil {
		logger.Error("anti-greylist delete failed", "request_id", requestID, "error", err)
	}
	s.mu.Lock()
	delete(s.entries, requestID)
	s.mu.Unlock()
	return entry, true
}

// ResumeInFlight flips returned back to false for an entry that has just
// been handed back to the Queue, so a later Tick does not re-signal it
// while the retry is still in flight. The retry_count is left untouched;
// the entry stays until Forget (on eventual success), PopReady (on
// exhaustion) or Expire removes it.
func (s *AntiGreylistStore) ResumeInFlight(ctx context.Context, requestID string) error {
	if err := s.repo.SetReturned(ctx, requestID, false); err != nil {
		return fmt.Errorf("anti-greylist resume: %w", err)
	}
	s.mu.Lock()
	if e, ok := s.entries[requestID]; ok {
		e.Returned = false
	}
	s.mu.Unlock()
	return nil
}

// Forget removes request_id's entry once its batch has fully completed
// with no further greylist signal. No-op if request_id is untracked.
func (s *AntiGreylistStore) Forget(ctx context.Context, requestID string) {
	s.mu.Lock()
	_, ok := s.entries[requestID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.repo.Delete(ctx, requestID); err != nil {
		logger.Error("anti-greylist forget delete failed", "request_id", requestID, "error", err)
	}
	s.mu.Lock()
	delete(s.entries, requestID)
	s.mu.Unlock()
}

// Expire deletes entries whose MaxRetriesReached is set and that have
// exceeded ttl since their last attempt.
func (s *AntiGreylistStore) Expire(ctx context.Context, ttl time.Duration) ([]string, error) {
	now := s.clock.Now()
	s.mu.Lock()
	var stale []string
	for id, e := range s.entries {
		if e.MaxRetriesReached && now.Sub(e.LastTriedAt) > ttl {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		if err := s.repo.Delete(ctx, id); err != nil {
			logger.Error("anti-greylist expire delete failed", "request_id", id, "error", err)
			continue
		}
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
	}
	return stale, nil
}

// Get returns a copy of request_id's entry, if tracked.
func (s *AntiGreylistStore) Get(requestID string) (domain.GreylistEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[requestID]
	if !ok {
		return domain.GreylistEntry{}, false
	}
	return *e, true
}

// Len returns the number of tracked entries.
func (s *AntiGreylistStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
