package verification

import (
	"context"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// Worker runs one assigned request's probe loop to completion (or partial
// completion, on a greylist split) and reports back to the Controller over
// a channel rather than a callback.
type Worker struct {
	prober Prober
	msgCh  chan<- WorkerMsg
}

// NewWorker constructs a Worker bound to a shared Prober and the
// Controller's message channel. A Worker holds no state between Run calls;
// the Controller spawns a fresh one (or reuses this one) per assignment.
func NewWorker(prober Prober, msgCh chan<- WorkerMsg) *Worker {
	return &Worker{prober: prober, msgCh: msgCh}
}

// Run probes every email in req, reporting progress and a terminal message
// (complete or greylist_split) for slotIndex.
func (w *Worker) Run(ctx context.Context, slotIndex int, req domain.VerifyRequest) {
	w.send(WorkerMsg{Kind: MsgAck, SlotIndex: slotIndex, RequestID: req.RequestID})

	records := make([]domain.VerificationRecord, 0, len(req.Emails))
	var greylisted []string
	lastPing := time.Now()

	for i, email := range req.Emails {
		select {
		case <-ctx.Done():
			return
		default:
		}

		outcome := w.prober.Probe(ctx, email)
		if outcome.Greylisted {
			greylisted = append(greylisted, email)
		} else {
			records = append(records, outcome.Record)
		}

		if i == len(req.Emails)-1 || time.Since(lastPing) >= 5*time.Second {
			w.send(WorkerMsg{
				Kind:           MsgPing,
				SlotIndex:      slotIndex,
				RequestID:      req.RequestID,
				CompletedCount: len(records),
			})
			lastPing = time.Now()
		}
	}

	if len(greylisted) > 0 {
		w.send(WorkerMsg{
			Kind:             MsgGreylistSplit,
			SlotIndex:        slotIndex,
			RequestID:        req.RequestID,
			OriginalEmails:   req.Emails,
			ResponseURL:      req.ResponseURL,
			Records:          records,
			GreylistedEmails: greylisted,
		})
		return
	}

	w.send(WorkerMsg{
		Kind:           MsgComplete,
		SlotIndex:      slotIndex,
		RequestID:      req.RequestID,
		OriginalEmails: req.Emails,
		ResponseURL:    req.ResponseURL,
		Records:        records,
	})
}

func (w *Worker) send(msg WorkerMsg) {
	w.msgCh <- msg
}
