package verification

import (
	"context"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// RecoveryStats summarizes what startup recovery found, for the log line
// emitted once reconciliation finishes.
type RecoveryStats struct {
	ArchiveRestored  int
	GreylistRestored int
	ZombiesExpired   int
	SlotsCleared     int
	OrphansComplete  int // Case A
	OrphansRequeued  int // Case B
	OrphansWaiting   int // Case C — still owned by an active greylist entry
	OrphansFailed    int
}

// Recovery reconciles in-memory state with the database after a restart.
// It must finish before the Queue opens for Add/Done.
type Recovery struct {
	queue     *Queue
	queueRepo QueueRepository
	results   ResultsRepository
	archive   *Archive
	greylist  *AntiGreylistStore
	slotRepo  SlotRepository
	webhook   WebhookSender
	zombieTTL time.Duration
}

// NewRecovery wires a Recovery pass from its collaborators. queueRepo is
// used to requeue orphans directly, bypassing Queue.Add: the Queue is not
// yet ready (Init only runs once this pass finishes), so going through
// the gated method here would deadlock the process before it ever opens.
func NewRecovery(queue *Queue, queueRepo QueueRepository, results ResultsRepository, archive *Archive, greylist *AntiGreylistStore, slotRepo SlotRepository, webhook WebhookSender, zombieTTL time.Duration) *Recovery {
	if zombieTTL <= 0 {
		zombieTTL = 7 * 24 * time.Hour
	}
	return &Recovery{
		queue:     queue,
		queueRepo: queueRepo,
		results:   results,
		archive:   archive,
		greylist:  greylist,
		slotRepo:  slotRepo,
		webhook:   webhook,
		zombieTTL: zombieTTL,
	}
}

// Run executes the 8-step reconciliation and finally opens the Queue.
func (r *Recovery) Run(ctx context.Context) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	// 1. restore archive accumulator
	if err := r.archive.Init(ctx); err != nil {
		return nil, err
	}

	// 2. load anti-greylist table into memory
	if err := r.greylist.Init(ctx); err != nil {
		return nil, err
	}
	stats.GreylistRestored = r.greylist.Len()

	// 3. expire zombie greylist entries: retry budget exhausted and last
	// tried longer ago than the configured TTL
	expired, err := r.greylist.Expire(ctx, r.zombieTTL)
	if err != nil {
		return nil, err
	}
	stats.ZombiesExpired = len(expired)

	// 4-5. identify true orphans and classify each: non-terminal Results
	// rows absent from the queue, absent from every worker slot, and
	// absent from the greylist table (neither active nor ready-to-retry).
	nonTerminal, err := r.results.ListNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	slots, err := r.slotRepo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	inSlot := make(map[string]struct{}, len(slots))
	for _, requestID := range slots {
		if requestID != "" {
			inSlot[requestID] = struct{}{}
		}
	}

	for i := range nonTerminal {
		res := nonTerminal[i]
		queued, err := r.queueRepo.Exists(ctx, res.RequestID)
		if err != nil {
			return nil, err
		}
		if queued {
			continue
		}
		if _, busy := inSlot[res.RequestID]; busy {
			continue
		}
		if _, active := r.greylist.Get(res.RequestID); active {
			stats.OrphansWaiting++
			continue
		}
		r.classifyOrphan(ctx, res, stats)
	}

	// 6. clear stale slot rows — nothing currently tracked owns them if
	// their request_id has no corresponding non-terminal Results row.
	if err := r.clearStaleSlots(ctx, slots, nonTerminal, stats); err != nil {
		return nil, err
	}

	logger.Info("startup recovery complete",
		"greylist_restored", stats.GreylistRestored,
		"zombies_expired", stats.ZombiesExpired,
		"orphans_complete", stats.OrphansComplete,
		"orphans_requeued", stats.OrphansRequeued,
		"orphans_waiting", stats.OrphansWaiting,
		"orphans_failed", stats.OrphansFailed,
		"slots_cleared", stats.SlotsCleared,
	)

	// 8. signal completion — open the gate for Add/Done.
	if err := r.queue.Init(ctx); err != nil {
		return nil, err
	}
	stats.ArchiveRestored = r.queue.Len()
	return stats, nil
}

func (r *Recovery) classifyOrphan(ctx context.Context, res domain.VerifyResults, stats *RecoveryStats) {
	snapshot, hasArchive := r.archive.Snapshot(res.RequestID)

	if hasArchive {
		remaining := r.archive.Remaining(res.RequestID)
		if len(remaining) == 0 {
			// Case A: archive already covers every email — finalize.
			records := make([]domain.VerificationRecord, 0, len(snapshot.Result))
			for _, rec := range snapshot.Result {
				records = append(records, rec)
			}
			res.Status = domain.VerifyStatusCompleted
			res.Verifying = false
			res.Results = records
			res.CompletedEmails = len(records)
			now := time.Now()
			res.CompletedAt = &now
			res.UpdatedAt = now
			if err := r.results.Update(ctx, &res); err != nil {
				logger.Error("recovery: finalize orphan failed", "request_id", res.RequestID, "error", err)
				stats.OrphansFailed++
				return
			}
			_ = r.archive.Finalize(ctx, res.RequestID)
			r.greylist.Forget(ctx, res.RequestID)
			if r.webhook != nil && res.ResponseURL != "" && res.WebhookAttempts < maxWebhookAttempts {
				r.webhook.Deliver(ctx, res)
			}
			stats.OrphansComplete++
			return
		}

		// Case B: archive is partial — requeue only what remains. The Queue
		// is not ready yet (Init runs after this loop), so insert directly
		// through the repository instead of the gated Queue.Add.
		if err := r.queueRepo.Insert(ctx, domain.VerifyRequest{
			RequestID:   res.RequestID,
			Emails:      remaining,
			ResponseURL: snapshot.ResponseURL,
		}); err != nil {
			logger.Error("recovery: requeue orphan failed", "request_id", res.RequestID, "error", err)
			stats.OrphansFailed++
			return
		}
		stats.OrphansRequeued++
		return
	}

	// No archive at all: the worker died before reporting anything. If the
	// original email list is still known, requeue the whole batch;
	// otherwise there is nothing left to recover from.
	if len(res.Emails) > 0 {
		if err := r.queueRepo.Insert(ctx, domain.VerifyRequest{
			RequestID:   res.RequestID,
			Emails:      res.Emails,
			ResponseURL: res.ResponseURL,
		}); err != nil {
			logger.Error("recovery: requeue bare orphan failed", "request_id", res.RequestID, "error", err)
			stats.OrphansFailed++
			return
		}
		stats.OrphansRequeued++
		return
	}

	res.Status = domain.VerifyStatusFailed
	res.Verifying = false
	now := time.Now()
	res.UpdatedAt = now
	if err := r.results.Update(ctx, &res); err != nil {
		logger.Error("recovery: mark orphan failed failed", "request_id", res.RequestID, "error", err)
	}
	stats.OrphansFailed++
}

func (r *Recovery) clearStaleSlots(ctx context.Context, slots map[int]string, nonTerminal []domain.VerifyResults, stats *RecoveryStats) error {
	owned := make(map[string]struct{}, len(nonTerminal))
	for _, res := range nonTerminal {
		owned[res.RequestID] = struct{}{}
	}
	for idx, requestID := range slots {
		if requestID == "" {
			continue
		}
		if _, ok := owned[requestID]; ok {
			continue
		}
		if err := r.slotRepo.Clear(ctx, idx); err != nil {
			return err
		}
		stats.SlotsCleared++
	}
	return nil
}
