package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/httpretry"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// maxWebhookAttempts bounds how many times a Results row's webhook is
// attempted across its lifetime, including attempts spent before a crash
// and resumed during startup recovery. Both Controller and Recovery must
// check this budget before calling Deliver.
const maxWebhookAttempts = 5

// countingDoer wraps an HTTPDoer and counts every underlying Do call,
// so the caller can learn how many HTTP attempts a single RetryClient.Do
// invocation actually made (RetryClient loops internally and does not
// report this itself).
type countingDoer struct {
	doer  httpretry.HTTPDoer
	count int64
}

func (c *countingDoer) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&c.count, 1)
	return c.doer.Do(req)
}

// WebhookSender delivers a completed Results record to its caller-supplied
// response_url. Deliver is fire-and-forget from the Controller's
// point of view: it must not block the event loop, so implementations run
// the HTTP call on its own goroutine.
type WebhookSender interface {
	Deliver(ctx context.Context, results domain.VerifyResults)
}

// HTTPWebhookSender posts the finished Results record as JSON to
// response_url, retrying transient failures via the shared retry client.
// Idempotent across restarts: webhook_sent guards a second delivery, and
// webhook_attempts counts the real HTTP attempts made, so the lifetime
// budget (maxWebhookAttempts) carries over to later Deliver calls once a
// delivery round has been persisted.
type HTTPWebhookSender struct {
	doer        httpretry.HTTPDoer
	maxAttempts int
	results     ResultsRepository
}

// NewHTTPWebhookSender builds a sender bound to maxAttempts delivery tries
// across a Results row's lifetime.
func NewHTTPWebhookSender(doer httpretry.HTTPDoer, maxAttempts int, results ResultsRepository) *HTTPWebhookSender {
	if maxAttempts <= 0 {
		maxAttempts = maxWebhookAttempts
	}
	return &HTTPWebhookSender{
		doer:        doer,
		maxAttempts: maxAttempts,
		results:     results,
	}
}

type webhookPayload struct {
	RequestID string                        `json:"request_id"`
	Status    string                        `json:"status"`
	Results   []domain.VerificationRecord   `json:"results"`
}

// Deliver posts results to ResponseURL on its own goroutine. Already-sent
// webhooks, requests with no response_url, and requests that already
// exhausted the attempt budget are skipped.
func (s *HTTPWebhookSender) Deliver(ctx context.Context, results domain.VerifyResults) {
	if results.WebhookSent || results.ResponseURL == "" || results.WebhookAttempts >= s.maxAttempts {
		return
	}
	go s.deliverNow(ctx, results)
}

// deliverNow spends up to whatever budget remains of s.maxAttempts in one
// retry-client call, then persists webhook_attempts (and webhook_sent) once,
// after that call returns. Attempts made in a round that a crash interrupts
// are not recorded, so the next Deliver call (from the Controller or from
// Recovery) starts from the count persisted before that round.
func (s *HTTPWebhookSender) deliverNow(ctx context.Context, results domain.VerifyResults) {
	payload := webhookPayload{
		RequestID: results.RequestID,
		Status:    string(results.Status),
		Results:   results.Results,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("webhook marshal failed", "request_id", results.RequestID, "error", err)
		return
	}

	remaining := s.maxAttempts - results.WebhookAttempts
	if remaining <= 0 {
		return
	}

	counter := &countingDoer{doer: s.doer}

	deliverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(deliverCtx, http.MethodPost, results.ResponseURL, bytes.NewReader(body))
	if err != nil {
		logger.Error("webhook request build failed", "request_id", results.RequestID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	// NewRetryClient treats maxRetries<=0 as "use the default of 3", so a
	// single-attempt budget has to bypass it rather than pass 0 through.
	var resp *http.Response
	var doErr error
	if remaining == 1 {
		resp, doErr = counter.Do(req)
	} else {
		resp, doErr = httpretry.NewRetryClient(counter, remaining-1).Do(req)
	}
	sent := doErr == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300
	if resp != nil {
		resp.Body.Close()
	}

	existing, gerr := s.results.Get(context.Background(), results.RequestID)
	if gerr != nil || existing == nil {
		logger.Error("webhook: results row vanished", "request_id", results.RequestID, "error", gerr)
		return
	}
	attemptsMade := int(atomic.LoadInt64(&counter.count))
	if attemptsMade == 0 {
		attemptsMade = 1
	}
	existing.WebhookAttempts += attemptsMade
	if sent {
		existing.WebhookSent = true
		logger.Info("webhook delivered", "request_id", results.RequestID, "attempts", existing.WebhookAttempts)
	} else {
		logger.Warn("webhook delivery failed", "request_id", results.RequestID, "attempts", existing.WebhookAttempts, "error", doErr)
	}
	if err := s.results.Update(context.Background(), existing); err != nil {
		logger.Error("webhook attempt persist failed", "request_id", results.RequestID, "error", err)
	}
}
