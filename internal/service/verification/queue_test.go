package verification

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

type fakeQueueRepo struct {
	mu   sync.Mutex
	rows map[string]domain.VerifyRequest
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{rows: make(map[string]domain.VerifyRequest)}
}

func (f *fakeQueueRepo) Insert(_ context.Context, req domain.VerifyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[req.RequestID] = req
	return nil
}

func (f *fakeQueueRepo) Delete(_ context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, requestID)
	return nil
}

func (f *fakeQueueRepo) LoadAll(_ context.Context) ([]domain.VerifyRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.VerifyRequest
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeQueueRepo) Exists(_ context.Context, requestID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[requestID]
	return ok, nil
}

func mustInitQueue(t *testing.T, repo *fakeQueueRepo) *Queue {
	t.Helper()
	q := NewQueue(repo)
	require.NoError(t, q.Init(context.Background()))
	return q
}

func TestQueue_AddThenCurrentAndDone(t *testing.T) {
	ctx := context.Background()
	q := mustInitQueue(t, newFakeQueueRepo())

	require.NoError(t, q.Add(ctx, domain.VerifyRequest{RequestID: "r1", Emails: []string{"a@example.com"}}))
	require.NoError(t, q.Add(ctx, domain.VerifyRequest{RequestID: "r2", Emails: []string{"b@example.com"}}))

	assert.Equal(t, 2, q.Len())
	assert.True(t, q.HasRequestID("r1"))

	cur, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, "r1", cur.RequestID)

	require.NoError(t, q.Done(ctx, "r1"))
	assert.False(t, q.HasRequestID("r1"))
	assert.Equal(t, 1, q.Len())

	cur, ok = q.Current()
	require.True(t, ok)
	assert.Equal(t, "r2", cur.RequestID)
}

func TestQueue_AddRejectsDuplicateAndEmpty(t *testing.T) {
	ctx := context.Background()
	q := mustInitQueue(t, newFakeQueueRepo())

	require.NoError(t, q.Add(ctx, domain.VerifyRequest{RequestID: "dup", Emails: []string{"a@example.com"}}))
	err := q.Add(ctx, domain.VerifyRequest{RequestID: "dup", Emails: []string{"a@example.com"}})
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	err = q.Add(ctx, domain.VerifyRequest{RequestID: "empty"})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestQueue_DoneIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := mustInitQueue(t, newFakeQueueRepo())

	assert.NoError(t, q.Done(ctx, "never-existed"))
}

func TestQueue_InitRestoresFromRepoAndDropsInvalidRows(t *testing.T) {
	repo := newFakeQueueRepo()
	repo.rows["good"] = domain.VerifyRequest{RequestID: "good", Emails: []string{"a@example.com"}}
	repo.rows["bad"] = domain.VerifyRequest{RequestID: "bad", Emails: nil}

	q := NewQueue(repo)
	require.NoError(t, q.Init(context.Background()))

	assert.True(t, q.HasRequestID("good"))
	assert.False(t, q.HasRequestID("bad"))

	_, stillThere := repo.rows["bad"]
	assert.False(t, stillThere, "invalid row should be deleted from the repo during init")
}

func TestQueue_IsEmpty(t *testing.T) {
	ctx := context.Background()
	q := mustInitQueue(t, newFakeQueueRepo())
	assert.True(t, q.IsEmpty())

	require.NoError(t, q.Add(ctx, domain.VerifyRequest{RequestID: "r1", Emails: []string{"a@example.com"}}))
	assert.False(t, q.IsEmpty())
}
