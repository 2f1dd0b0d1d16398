// Package verification implements the durable SMTP deliverability
// verification pipeline: a persistent request queue, a controller that
// assigns requests across a fixed pool of worker slots, a per-worker SMTP
// probe state machine, an anti-greylisting retry store, an archive/merge
// step for partial results, and a startup recovery procedure that
// reconciles in-memory state with the on-disk tables after a crash.
//
// The service layer contains pure business logic and depends on the
// repository interfaces defined in repository.go. It never imports
// net/http directly; HTTP exposure lives in internal/api.
package verification
