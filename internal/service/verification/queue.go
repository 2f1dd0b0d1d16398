package verification

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// Queue is the ordered, durable FIFO of pending requests.
// The queue table is the source of truth; Add/Done write through before
// mutating memory, and the in-memory structures are rebuilt from the table
// at startup once Startup Recovery signals completion.
//
// Queue is safe for concurrent use: it is the single writer of its own
// maps, guarded by mu, matching the "Queue structures (Queue-mutable only)"
// ownership rule.
type Queue struct {
	repo QueueRepository

	mu       sync.Mutex
	order    []string                  // ordered request_ids, head = index 0
	ids      map[string]struct{}       // unique-id set
	emails   map[string][]string       // request_id -> emails
	response map[string]string         // request_id -> response_url

	ready     bool
	readyCond *sync.Cond
}

// NewQueue constructs an empty, not-yet-ready Queue. Call Init once
// Startup Recovery has finished to rebuild state and open the gate.
func NewQueue(repo QueueRepository) *Queue {
	q := &Queue{
		repo:     repo,
		ids:      make(map[string]struct{}),
		emails:   make(map[string][]string),
		response: make(map[string]string),
	}
	q.readyCond = sync.NewCond(&q.mu)
	return q
}

// Init rebuilds in-memory state from the queue table and opens the gate
// for Add/Done.
func (q *Queue) Init(ctx context.Context) error {
	rows, err := q.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("queue init: load rows: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, row := range rows {
		if row.RequestID == "" || len(row.Emails) == 0 {
			// (d) delete rows with null/empty fields
			if row.RequestID != "" {
				_ = q.repo.Delete(ctx, row.RequestID)
			}
			continue
		}
		q.order = append(q.order, row.RequestID)
		q.ids[row.RequestID] = struct{}{}
		q.emails[row.RequestID] = row.Emails
		q.response[row.RequestID] = row.ResponseURL
	}

	q.ready = true
	q.readyCond.Broadcast()
	logger.Info("queue ready", "restored_requests", len(q.order))
	return nil
}

// waitUntilReady blocks until Init has run. Callers hold q.mu on entry and
// leave holding it on return (sync.Cond.Wait releases/reacquires it).
func (q *Queue) waitUntilReady() {
	for !q.ready {
		q.readyCond.Wait()
	}
}

// Add enqueues a request. Fails with ErrDuplicateRequest if request_id is
// already present. Blocks until the Queue has signalled ready.
func (q *Queue) Add(ctx context.Context, req domain.VerifyRequest) error {
	if len(req.Emails) == 0 {
		return ErrEmptyBatch
	}

	q.mu.Lock()
	q.waitUntilReady()
	if _, exists := q.ids[req.RequestID]; exists {
		q.mu.Unlock()
		return ErrDuplicateRequest
	}
	q.mu.Unlock()

	if err := q.repo.Insert(ctx, req); err != nil {
		return fmt.Errorf("queue add: %w", err)
	}

	q.mu.Lock()
	q.order = append(q.order, req.RequestID)
	q.ids[req.RequestID] = struct{}{}
	q.emails[req.RequestID] = req.Emails
	q.response[req.RequestID] = req.ResponseURL
	q.mu.Unlock()

	logger.Info("queue add", "request_id", req.RequestID, "emails", len(req.Emails))
	return nil
}

// Done removes request_id from the queue. Idempotent.
func (q *Queue) Done(ctx context.Context, requestID string) error {
	q.mu.Lock()
	q.waitUntilReady()
	if _, exists := q.ids[requestID]; !exists {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	if err := q.repo.Delete(ctx, requestID); err != nil {
		return fmt.Errorf("queue done: %w", err)
	}

	q.mu.Lock()
	delete(q.ids, requestID)
	delete(q.emails, requestID)
	delete(q.response, requestID)
	for i, id := range q.order {
		if id == requestID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	return nil
}

// Current returns the request at index 0, or the empty sentinel if the
// queue is empty.
func (q *Queue) Current() (domain.VerifyRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return domain.VerifyRequest{}, false
	}
	id := q.order[0]
	return domain.VerifyRequest{
		RequestID:   id,
		Emails:      append([]string(nil), q.emails[id]...),
		ResponseURL: q.response[id],
	}, true
}

// HasNext reports whether the queue holds at least one request.
func (q *Queue) HasNext() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order) > 0
}

// IsEmpty reports whether the queue holds no requests.
func (q *Queue) IsEmpty() bool { return !q.HasNext() }

// HasRequestID reports whether request_id is currently queued.
func (q *Queue) HasRequestID(requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.ids[requestID]
	return ok
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
