package verification

import "errors"

// Sentinel errors for the verification service layer.
var (
	// ErrDuplicateRequest is returned by Queue.Add when the request_id is
	// already present in the queue.
	ErrDuplicateRequest = errors.New("request_id already queued")

	// ErrEmptyBatch is returned when a request carries no emails.
	ErrEmptyBatch = errors.New("emails must be non-empty")

	// ErrNotFound is returned when a request_id has no Results record.
	ErrNotFound = errors.New("request not found")

	// ErrNotReady names a Queue that startup recovery has not opened yet.
	// No Queue operation returns it: Add and Done block until Init has run.
	ErrNotReady = errors.New("queue is not ready yet")

	// ErrNoFreeSlot names the state in which every worker slot is busy. The
	// Controller's assignment loop does not return it; it leaves the queue
	// head in place until a slot frees up.
	ErrNoFreeSlot = errors.New("no free worker slot")

	// ErrArchiveInvalid names an archive row that fails its validity check
	// (empty request_id, empty emails, nil result). Archive.Init skips such
	// rows without returning it.
	ErrArchiveInvalid = errors.New("archive row failed validity check")
)
