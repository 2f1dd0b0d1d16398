package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/distlock"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// AssignLockKey is the distlock key guarding the assignment loop, so that
// running two verify-worker processes against the same database for
// redundancy never lets both hand the same queue head to a slot at once.
// Callers construct the Controller's assignLock with this key.
const AssignLockKey = "verify-controller"

// WorkerMsgKind is the sum type a Worker reports back to the Controller
// over a channel, replacing nested completion callbacks.
type WorkerMsgKind string

const (
	MsgAck          WorkerMsgKind = "ack"
	MsgPing         WorkerMsgKind = "ping"
	MsgPartial      WorkerMsgKind = "partial"
	MsgComplete     WorkerMsgKind = "complete"
	MsgGreylistSplit WorkerMsgKind = "greylist_split"
)

// WorkerMsg is the single message type flowing from a Worker goroutine to
// the Controller's event loop.
type WorkerMsg struct {
	Kind             WorkerMsgKind
	SlotIndex        int
	RequestID        string
	OriginalEmails   []string
	ResponseURL      string
	Records          []domain.VerificationRecord
	GreylistedEmails []string
	CompletedCount   int
}

type slot struct {
	busy      bool
	requestID string
}

// Controller owns the fixed array of worker slots and drives the
// assignment, completion, and partial-completion (greylist-split)
// protocols.
type Controller struct {
	queue      *Queue
	results    ResultsRepository
	slotRepo   SlotRepository
	archive    *Archive
	greylist   *AntiGreylistStore
	prober     Prober
	webhook    WebhookSender
	assignLock distlock.DistLock

	ackTimeout   time.Duration
	pingInterval time.Duration
	greylistTick time.Duration
	zombieTTL    time.Duration

	mu    sync.Mutex
	slots []slot
	msgCh chan WorkerMsg
}

// ControllerConfig carries the tunables sourced from DeliverabilityConfig.
type ControllerConfig struct {
	WorkerCount  int
	AckTimeout   time.Duration
	PingInterval time.Duration
	GreylistTick time.Duration
	ZombieTTL    time.Duration
}

// NewController wires a Controller from its collaborators. assignLock may be
// nil (tests, or single-process deployments that don't need cross-host
// mutual exclusion); when non-nil, tryAssign only proceeds while it holds
// the lock.
func NewController(queue *Queue, results ResultsRepository, slotRepo SlotRepository, archive *Archive, greylist *AntiGreylistStore, prober Prober, webhook WebhookSender, assignLock distlock.DistLock, cfg ControllerConfig) *Controller {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	return &Controller{
		queue:        queue,
		results:      results,
		slotRepo:     slotRepo,
		archive:      archive,
		greylist:     greylist,
		prober:       prober,
		webhook:      webhook,
		assignLock:   assignLock,
		ackTimeout:   cfg.AckTimeout,
		pingInterval: cfg.PingInterval,
		greylistTick: cfg.GreylistTick,
		zombieTTL:    cfg.ZombieTTL,
		slots:        make([]slot, cfg.WorkerCount),
		msgCh:        make(chan WorkerMsg, cfg.WorkerCount*4),
	}
}

// Init rebuilds the slot array from the database.
func (c *Controller) Init(ctx context.Context) error {
	rows, err := c.slotRepo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("controller init: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, requestID := range rows {
		if idx >= 0 && idx < len(c.slots) && requestID != "" {
			c.slots[idx] = slot{busy: true, requestID: requestID}
		}
	}
	return nil
}

// Run drives the Controller's event loop until ctx is cancelled. It is the
// single goroutine that mutates c.slots alongside message handling, so no
// additional locking is needed for slot transitions made from here; msgCh
// sends from worker goroutines are the only cross-goroutine boundary.
func (c *Controller) Run(ctx context.Context) error {
	assignTick := time.NewTicker(200 * time.Millisecond)
	defer assignTick.Stop()

	greylistTick := time.NewTicker(c.greylistTickOrDefault())
	defer greylistTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.msgCh:
			c.handleMessage(ctx, msg)
		case <-assignTick.C:
			c.tryAssign(ctx)
		case <-greylistTick.C:
			c.tickGreylist(ctx)
		}
	}
}

func (c *Controller) greylistTickOrDefault() time.Duration {
	if c.greylistTick <= 0 {
		return 30 * time.Second
	}
	return c.greylistTick
}

// tryAssign hands the head of the queue to the first free slot, if any:
// persist slot, mark Results processing, then hand off async. Queue.Done
// is deferred until the worker's ack arrives. Gated on assignLock so that
// two verify-worker processes sharing a database never race on the same
// slot array.
func (c *Controller) tryAssign(ctx context.Context) {
	if c.assignLock != nil {
		acquired, err := c.assignLock.Acquire(ctx)
		if err != nil {
			logger.Error("assign lock acquire failed", "error", err)
			return
		}
		if !acquired {
			return
		}
		defer c.assignLock.Release(ctx)
	}

	req, ok := c.queue.Current()
	if !ok {
		return
	}

	c.mu.Lock()
	freeIdx := -1
	for i, s := range c.slots {
		if !s.busy {
			freeIdx = i
			break
		}
	}
	c.mu.Unlock()
	if freeIdx == -1 {
		return
	}

	if err := c.slotRepo.Assign(ctx, freeIdx, req.RequestID); err != nil {
		logger.Error("slot assign persist failed", "slot", freeIdx, "request_id", req.RequestID, "error", err)
		return
	}
	c.mu.Lock()
	c.slots[freeIdx] = slot{busy: true, requestID: req.RequestID}
	c.mu.Unlock()

	if existing, err := c.results.Get(ctx, req.RequestID); err == nil && existing != nil {
		existing.Status = domain.VerifyStatusProcessing
		existing.Verifying = true
		existing.Emails = req.Emails
		if err := c.results.Update(ctx, existing); err != nil {
			logger.Error("results mark processing failed", "request_id", req.RequestID, "error", err)
		}
	}

	w := NewWorker(c.prober, c.msgCh)
	go w.Run(ctx, freeIdx, req)
	logger.Info("assigned request to slot", "slot", freeIdx, "request_id", req.RequestID, "emails", len(req.Emails))
}

func (c *Controller) freeSlot(ctx context.Context, idx int) {
	if idx < 0 || idx >= len(c.slots) {
		return
	}
	if err := c.slotRepo.Clear(ctx, idx); err != nil {
		logger.Error("slot clear persist failed", "slot", idx, "error", err)
	}
	c.mu.Lock()
	c.slots[idx] = slot{}
	c.mu.Unlock()
}

func (c *Controller) handleMessage(ctx context.Context, msg WorkerMsg) {
	switch msg.Kind {
	case MsgAck:
		if err := c.queue.Done(ctx, msg.RequestID); err != nil {
			logger.Error("queue done after ack failed", "request_id", msg.RequestID, "error", err)
		}
	case MsgPing:
		c.handlePing(ctx, msg)
	case MsgComplete:
		c.handleComplete(ctx, msg)
		c.freeSlot(ctx, msg.SlotIndex)
	case MsgPartial, MsgGreylistSplit:
		c.handlePartial(ctx, msg)
		c.freeSlot(ctx, msg.SlotIndex)
	}
}

func (c *Controller) handlePing(ctx context.Context, msg WorkerMsg) {
	existing, err := c.results.Get(ctx, msg.RequestID)
	if err != nil || existing == nil {
		return
	}
	existing.CompletedEmails = msg.CompletedCount
	_ = c.results.Update(ctx, existing)
}

// handleComplete persists a worker's final batch. A batch that never split
// on greylisting carries every record in msg.Records directly. But a batch
// that previously split (the worker is now reporting on just the retried
// greylist subset) must be merged with what the Archive already
// accumulated from the earlier partial completion — otherwise the emails
// verified before the split are silently dropped from the final result.
func (c *Controller) handleComplete(ctx context.Context, msg WorkerMsg) {
	existing, err := c.results.Get(ctx, msg.RequestID)
	if err != nil || existing == nil {
		logger.Error("complete: results row missing", "request_id", msg.RequestID, "error", err)
		return
	}

	records := msg.Records
	_, hadArchive := c.archive.Snapshot(msg.RequestID)
	if hadArchive {
		if len(msg.Records) > 0 {
			if err := c.archive.Merge(ctx, msg.RequestID, msg.Records); err != nil {
				logger.Error("archive merge on complete failed", "request_id", msg.RequestID, "error", err)
				return
			}
		}
		snapshot, _ := c.archive.Snapshot(msg.RequestID)
		records = make([]domain.VerificationRecord, 0, len(snapshot.Result))
		for _, rec := range snapshot.Result {
			records = append(records, rec)
		}
	}

	existing.Status = domain.VerifyStatusCompleted
	existing.Verifying = false
	existing.Results = records
	existing.CompletedEmails = len(records)
	now := time.Now()
	existing.CompletedAt = &now
	existing.UpdatedAt = now

	if err := c.results.Update(ctx, existing); err != nil {
		logger.Error("final results persist failed", "request_id", msg.RequestID, "error", err)
		return
	}

	if hadArchive {
		if err := c.archive.Finalize(ctx, msg.RequestID); err != nil {
			logger.Error("archive finalize failed", "request_id", msg.RequestID, "error", err)
		}
	}
	c.greylist.Forget(ctx, msg.RequestID)

	if c.webhook != nil && existing.ResponseURL != "" && existing.WebhookAttempts < maxWebhookAttempts {
		c.webhook.Deliver(ctx, *existing)
	}
	logger.Info("request completed", "request_id", msg.RequestID, "emails", existing.CompletedEmails)
}

// handlePartial implements the partial-completion (greylist-split)
// protocol: merge what finished into the Archive, push what didn't
// into the Anti-Greylisting Store, and finalize only once nothing remains.
func (c *Controller) handlePartial(ctx context.Context, msg WorkerMsg) {
	if err := c.archive.Ensure(ctx, msg.RequestID, msg.OriginalEmails, msg.ResponseURL); err != nil {
		logger.Error("archive ensure failed", "request_id", msg.RequestID, "error", err)
		return
	}
	if len(msg.Records) > 0 {
		if err := c.archive.Merge(ctx, msg.RequestID, msg.Records); err != nil {
			logger.Error("archive merge failed", "request_id", msg.RequestID, "error", err)
			return
		}
	}

	if len(msg.GreylistedEmails) > 0 {
		entry, err := c.greylist.Push(ctx, msg.RequestID, msg.GreylistedEmails)
		if err != nil {
			logger.Error("greylist push failed", "request_id", msg.RequestID, "error", err)
			return
		}
		if entry.MaxRetriesReached {
			c.exhaustGreylist(ctx, msg.RequestID, msg.GreylistedEmails)
		}
	}

	if remaining := c.archive.Remaining(msg.RequestID); len(remaining) == 0 {
		c.finalizeFromArchive(ctx, msg.RequestID)
	} else {
		existing, err := c.results.Get(ctx, msg.RequestID)
		if err == nil && existing != nil {
			existing.GreylistFound = true
			existing.CompletedEmails = len(msg.OriginalEmails) - len(remaining)
			existing.UpdatedAt = time.Now()
			_ = c.results.Update(ctx, existing)
		}
	}
}

// exhaustGreylist converts permanently-exhausted greylist emails into
// failed records so the batch can still complete.
func (c *Controller) exhaustGreylist(ctx context.Context, requestID string, emails []string) {
	now := time.Now()
	failed := make([]domain.VerificationRecord, len(emails))
	for i, email := range emails {
		failed[i] = domain.VerificationRecord{
			Email:      email,
			Reachable:  domain.ReachableUnknown,
			Error:      true,
			ErrorMsg:   string(domain.ErrKindGreylistExhausted),
			VerifiedAt: now,
		}
	}
	if err := c.archive.Merge(ctx, requestID, failed); err != nil {
		logger.Error("archive merge (greylist exhausted) failed", "request_id", requestID, "error", err)
		return
	}
	if _, ok := c.greylist.PopReady(ctx, requestID); !ok {
		logger.Warn("greylist exhausted entry already absent", "request_id", requestID)
	}
}

func (c *Controller) finalizeFromArchive(ctx context.Context, requestID string) {
	snapshot, ok := c.archive.Snapshot(requestID)
	if !ok {
		return
	}
	records := make([]domain.VerificationRecord, 0, len(snapshot.Result))
	for _, rec := range snapshot.Result {
		records = append(records, rec)
	}

	existing, err := c.results.Get(ctx, requestID)
	if err != nil || existing == nil {
		logger.Error("finalize: results row missing", "request_id", requestID, "error", err)
		return
	}
	existing.Status = domain.VerifyStatusCompleted
	existing.Verifying = false
	existing.Results = records
	existing.CompletedEmails = len(records)
	now := time.Now()
	existing.CompletedAt = &now
	existing.UpdatedAt = now
	if err := c.results.Update(ctx, existing); err != nil {
		logger.Error("final results persist failed", "request_id", requestID, "error", err)
		return
	}

	if err := c.archive.Finalize(ctx, requestID); err != nil {
		logger.Error("archive finalize failed", "request_id", requestID, "error", err)
	}
	c.greylist.Forget(ctx, requestID)

	if c.webhook != nil && existing.ResponseURL != "" && existing.WebhookAttempts < maxWebhookAttempts {
		c.webhook.Deliver(ctx, *existing)
	}
	logger.Info("request completed via archive merge", "request_id", requestID, "emails", len(records))
}

// tickGreylist re-enqueues requests whose backoff window elapsed this
// round.
func (c *Controller) tickGreylist(ctx context.Context) {
	ready, err := c.greylist.Tick(ctx)
	if err != nil {
		logger.Error("greylist tick failed", "error", err)
		return
	}
	for _, requestID := range ready {
		entry, ok := c.greylist.Get(requestID)
		if !ok {
			continue
		}
		snapshot, _ := c.archive.Snapshot(requestID)
		if err := c.queue.Add(ctx, domain.VerifyRequest{
			RequestID:   requestID,
			Emails:      entry.Emails,
			ResponseURL: snapshot.ResponseURL,
		}); err != nil && err != ErrDuplicateRequest {
			logger.Error("greylist requeue failed", "request_id", requestID, "error", err)
			continue
		}
		if err := c.greylist.ResumeInFlight(ctx, requestID); err != nil {
			logger.Error("greylist resume-in-flight failed", "request_id", requestID, "error", err)
		}
	}
}
