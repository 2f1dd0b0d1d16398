package verification

import (
	"context"
	"sync"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

type fakeResultsRepo struct {
	mu   sync.Mutex
	rows map[string]domain.VerifyResults
}

func newFakeResultsRepo() *fakeResultsRepo {
	return &fakeResultsRepo{rows: make(map[string]domain.VerifyResults)}
}

func (f *fakeResultsRepo) Create(_ context.Context, r *domain.VerifyResults) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[r.RequestID] = *r
	return nil
}

func (f *fakeResultsRepo) Get(_ context.Context, requestID string) (*domain.VerifyResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[requestID]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (f *fakeResultsRepo) Update(_ context.Context, r *domain.VerifyResults) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[r.RequestID] = *r
	return nil
}

func (f *fakeResultsRepo) ListNonTerminal(_ context.Context) ([]domain.VerifyResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.VerifyResults
	for _, r := range f.rows {
		if r.Status == domain.VerifyStatusQueued || r.Status == domain.VerifyStatusProcessing {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSlotRepo struct {
	mu    sync.Mutex
	slots map[int]string
}

func newFakeSlotRepo() *fakeSlotRepo {
	return &fakeSlotRepo{slots: make(map[int]string)}
}

func (f *fakeSlotRepo) Assign(_ context.Context, slotIndex int, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[slotIndex] = requestID
	return nil
}

func (f *fakeSlotRepo) Clear(_ context.Context, slotIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.slots, slotIndex)
	return nil
}

func (f *fakeSlotRepo) LoadAll(_ context.Context) (map[int]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]string, len(f.slots))
	for k, v := range f.slots {
		out[k] = v
	}
	return out, nil
}

// fakeProber reports every email as deliverable, except emails that have an
// entry in outcomes, for which it returns that outcome.
type fakeProber struct {
	outcomes map[string]ProbeOutcome
}

func (p *fakeProber) Probe(_ context.Context, email string) ProbeOutcome {
	if p.outcomes != nil {
		if o, ok := p.outcomes[email]; ok {
			return o
		}
	}
	return ProbeOutcome{Record: domain.VerificationRecord{Email: email, Reachable: domain.ReachableYes}}
}

type fakeWebhookSender struct {
	mu        sync.Mutex
	delivered []domain.VerifyResults
}

func (w *fakeWebhookSender) Deliver(_ context.Context, results domain.VerifyResults) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delivered = append(w.delivered, results)
}
