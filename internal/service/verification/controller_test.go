package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

func newTestController(t *testing.T, prober Prober) (*Controller, *fakeResultsRepo, *Queue, *fakeWebhookSender) {
	t.Helper()
	queue := mustInitQueue(t, newFakeQueueRepo())
	results := newFakeResultsRepo()
	archive := NewArchive(newFakeArchiveRepo())
	greylist := NewAntiGreylistStore(newFakeGreylistRepo(), time.Minute, 3)
	hook := &fakeWebhookSender{}

	c := NewController(queue, results, newFakeSlotRepo(), archive, greylist, prober, hook, nil, ControllerConfig{
		WorkerCount: 2,
	})
	return c, results, queue, hook
}

func TestController_TryAssignPersistsSlotAndMarksProcessing(t *testing.T) {
	ctx := context.Background()
	c, results, queue, _ := newTestController(t, &fakeProber{})

	require.NoError(t, results.Create(ctx, &domain.VerifyResults{
		RequestID: "r1",
		Status:    domain.VerifyStatusQueued,
		Emails:    []string{"a@example.com"},
	}))
	require.NoError(t, queue.Add(ctx, domain.VerifyRequest{RequestID: "r1", Emails: []string{"a@example.com"}}))

	c.tryAssign(ctx)

	c.mu.Lock()
	busy := c.slots[0].busy
	reqID := c.slots[0].requestID
	c.mu.Unlock()
	assert.True(t, busy)
	assert.Equal(t, "r1", reqID)

	row, err := results.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyStatusProcessing, row.Status)
	assert.True(t, row.Verifying)

	msg := <-c.msgCh
	assert.Equal(t, MsgAck, msg.Kind)
}

func TestController_HandleCompletePersistsAndDeliversWebhook(t *testing.T) {
	ctx := context.Background()
	c, results, _, hook := newTestController(t, &fakeProber{})

	require.NoError(t, results.Create(ctx, &domain.VerifyResults{
		RequestID:   "r1",
		Status:      domain.VerifyStatusProcessing,
		Verifying:   true,
		ResponseURL: "https://example.com/hook",
	}))
	c.slots[0] = slot{busy: true, requestID: "r1"}

	c.handleMessage(ctx, WorkerMsg{
		Kind:      MsgComplete,
		SlotIndex: 0,
		RequestID: "r1",
		Records: []domain.VerificationRecord{
			{Email: "a@example.com", Reachable: domain.ReachableYes},
		},
	})

	row, err := results.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyStatusCompleted, row.Status)
	assert.False(t, row.Verifying)
	assert.Equal(t, 1, row.CompletedEmails)
	require.NotNil(t, row.CompletedAt)

	c.mu.Lock()
	busy := c.slots[0].busy
	c.mu.Unlock()
	assert.False(t, busy, "slot must be freed on completion")

	hook.mu.Lock()
	delivered := len(hook.delivered)
	hook.mu.Unlock()
	assert.Equal(t, 1, delivered, "webhook must fire exactly once on completion")
}

func TestController_HandlePartial_GreylistSplitThenEventualCompletion(t *testing.T) {
	ctx := context.Background()
	c, results, queue, _ := newTestController(t, &fakeProber{})

	require.NoError(t, results.Create(ctx, &domain.VerifyResults{
		RequestID: "r1",
		Status:    domain.VerifyStatusProcessing,
		Verifying: true,
	}))
	c.slots[0] = slot{busy: true, requestID: "r1"}

	c.handleMessage(ctx, WorkerMsg{
		Kind:           MsgGreylistSplit,
		SlotIndex:      0,
		RequestID:      "r1",
		OriginalEmails: []string{"a@example.com", "b@example.com"},
		Records: []domain.VerificationRecord{
			{Email: "a@example.com", Reachable: domain.ReachableYes},
		},
		GreylistedEmails: []string{"b@example.com"},
	})

	row, err := results.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, row.GreylistFound)
	assert.NotEqual(t, domain.VerifyStatusCompleted, row.Status, "must not finalize while an email is still greylisted")

	entry, ok := c.greylist.Get("r1")
	require.True(t, ok)
	assert.Equal(t, []string{"b@example.com"}, entry.Emails)
	assert.Equal(t, 1, entry.RetryCount)

	c.greylist.clock = &fixedClock{now: time.Now().Add(time.Hour)}
	c.tickGreylist(ctx)

	assert.True(t, queue.HasRequestID("r1"), "completed-but-greylisted request must be requeued")

	resumedEntry, ok := c.greylist.Get("r1")
	require.True(t, ok)
	assert.False(t, resumedEntry.Returned, "ResumeInFlight must flip returned back to false once requeued")

	req, ok := queue.Current()
	require.True(t, ok)
	assert.Equal(t, []string{"b@example.com"}, req.Emails)

	c.slots[1] = slot{busy: true, requestID: "r1"}
	c.handleMessage(ctx, WorkerMsg{
		Kind:           MsgComplete,
		SlotIndex:      1,
		RequestID:      "r1",
		OriginalEmails: []string{"b@example.com"},
		Records: []domain.VerificationRecord{
			{Email: "b@example.com", Reachable: domain.ReachableYes, VerifiedAt: time.Now()},
		},
	})

	row, err = results.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyStatusCompleted, row.Status)
	require.Len(t, row.Results, 2, "final result must merge the pre-split archive with the retried sub-batch")
	emails := []string{row.Results[0].Email, row.Results[1].Email}
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, emails, "email verified before the greylist split must not be dropped")

	_, stillGreylisted := c.greylist.Get("r1")
	assert.False(t, stillGreylisted, "greylist entry must be forgotten after final completion")
}

func TestController_ExhaustGreylist_ConvertsToFailedRecordsAndFinalizes(t *testing.T) {
	ctx := context.Background()
	c, results, _, _ := newTestController(t, &fakeProber{})

	require.NoError(t, results.Create(ctx, &domain.VerifyResults{
		RequestID: "r1",
		Status:    domain.VerifyStatusProcessing,
		Verifying: true,
	}))
	c.slots[0] = slot{busy: true, requestID: "r1"}

	for i := 0; i < 3; i++ {
		c.handleMessage(ctx, WorkerMsg{
			Kind:             MsgGreylistSplit,
			SlotIndex:        0,
			RequestID:        "r1",
			OriginalEmails:   []string{"a@example.com"},
			GreylistedEmails: []string{"a@example.com"},
		})
		c.slots[0] = slot{busy: true, requestID: "r1"}
	}

	row, err := results.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyStatusCompleted, row.Status, "batch must finalize once the retry budget is exhausted")
	require.Len(t, row.Results, 1)
	assert.Equal(t, string(domain.ErrKindGreylistExhausted), row.Results[0].ErrorMsg)

	_, stillInGreylist := c.greylist.Get("r1")
	assert.False(t, stillInGreylist)
}
