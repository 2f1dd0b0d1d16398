package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// Service is the package's public entrypoint, consumed by internal/api. It
// owns request submission and read access to Results; the Queue and
// Controller it wraps run their own background loops.
type Service struct {
	queue   *Queue
	results ResultsRepository
}

// NewService wires a Service over an already-running Queue/Controller pair.
func NewService(queue *Queue, results ResultsRepository) *Service {
	return &Service{queue: queue, results: results}
}

// Submit creates a new Results row (status=queued) and adds the request to
// the Queue. If requestID is empty, one is generated. Returns
// ErrDuplicateRequest if requestID is already tracked.
func (s *Service) Submit(ctx context.Context, requestID string, emails []string, responseURL string) (string, error) {
	if len(emails) == 0 {
		return "", ErrEmptyBatch
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	existing, err := s.results.Get(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("submit: lookup results: %w", err)
	}
	if existing != nil {
		return "", ErrDuplicateRequest
	}

	now := time.Now()
	res := &domain.VerifyResults{
		RequestID:   requestID,
		Status:      domain.VerifyStatusQueued,
		Emails:      emails,
		TotalEmails: len(emails),
		ResponseURL: responseURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.results.Create(ctx, res); err != nil {
		return "", fmt.Errorf("submit: create results: %w", err)
	}

	if err := s.queue.Add(ctx, domain.VerifyRequest{
		RequestID:   requestID,
		Emails:      emails,
		ResponseURL: responseURL,
	}); err != nil {
		return "", fmt.Errorf("submit: enqueue: %w", err)
	}
	return requestID, nil
}

// Get returns the current Results record for requestID.
func (s *Service) Get(ctx context.Context, requestID string) (*domain.VerifyResults, error) {
	res, err := s.results.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res, nil
}
