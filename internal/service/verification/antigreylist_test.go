package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

type fakeGreylistRepo struct {
	mu   sync.Mutex
	rows map[string]domain.GreylistEntry
}

func newFakeGreylistRepo() *fakeGreylistRepo {
	return &fakeGreylistRepo{rows: make(map[string]domain.GreylistEntry)}
}

func (f *fakeGreylistRepo) Upsert(_ context.Context, e domain.GreylistEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[e.RequestID] = e
	return nil
}

func (f *fakeGreylistRepo) Get(_ context.Context, requestID string) (*domain.GreylistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[requestID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeGreylistRepo) Delete(_ context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, requestID)
	return nil
}

func (f *fakeGreylistRepo) LoadAll(_ context.Context) ([]domain.GreylistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.GreylistEntry
	for _, e := range f.rows {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeGreylistRepo) SetReturned(_ context.Context, requestID string, returned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[requestID]
	if !ok {
		return nil
	}
	e.Returned = returned
	f.rows[requestID] = e
	return nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func TestAntiGreylistStore_PushBumpsRetryCount(t *testing.T) {
	ctx := context.Background()
	store := NewAntiGreylistStore(newFakeGreylistRepo(), time.Minute, 3)

	entry, err := store.Push(ctx, "r1", []string{"a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.RetryCount)
	assert.False(t, entry.MaxRetriesReached)

	entry, err = store.Push(ctx, "r1", []string{"a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, entry.RetryCount)

	entry, err = store.Push(ctx, "r1", []string{"a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, entry.RetryCount)
	assert.True(t, entry.MaxRetriesReached, "retry_count bound must be enforced")
}

func TestAntiGreylistStore_TickFlipsReturnedInRepoBeforeMemory(t *testing.T) {
	ctx := context.Background()
	repo := newFakeGreylistRepo()
	store := NewAntiGreylistStore(repo, 10*time.Second, 5)

	clk := &fixedClock{now: time.Now()}
	store.clock = clk

	_, err := store.Push(ctx, "r1", []string{"a@example.com"})
	require.NoError(t, err)

	ready, err := store.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready, "backoff window has not elapsed yet")

	clk.now = clk.now.Add(11 * time.Second)
	ready, err = store.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, ready)

	row, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, row.Returned, "database must reflect returned=true")
}

func TestAntiGreylistStore_ForgetRemovesEntry(t *testing.T) {
	ctx := context.Background()
	repo := newFakeGreylistRepo()
	store := NewAntiGreylistStore(repo, time.Minute, 5)

	_, err := store.Push(ctx, "r1", []string{"a@example.com"})
	require.NoError(t, err)

	store.Forget(ctx, "r1")

	_, ok := store.Get("r1")
	assert.False(t, ok)
	row, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, row)
}
