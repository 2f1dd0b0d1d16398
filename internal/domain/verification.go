package domain

import "time"

// VerifyStatus is the lifecycle state of a verification request.
type VerifyStatus string

const (
	VerifyStatusQueued     VerifyStatus = "queued"
	VerifyStatusProcessing VerifyStatus = "processing"
	VerifyStatusCompleted  VerifyStatus = "completed"
	VerifyStatusFailed     VerifyStatus = "failed"
)

// VerifyProgressStep is the caller-facing coarse progress indicator.
// It is derived from VerifyStatus plus GreylistFound, never stored directly.
type VerifyProgressStep string

const (
	ProgressReceived        VerifyProgressStep = "received"
	ProgressProcessing      VerifyProgressStep = "processing"
	ProgressAntiGreyListing VerifyProgressStep = "antiGreyListing"
	ProgressComplete        VerifyProgressStep = "complete"
	ProgressFailed          VerifyProgressStep = "failed"
)

// Reachable is the tri-state deliverability verdict for an email.
type Reachable string

const (
	ReachableYes     Reachable = "yes"
	ReachableNo      Reachable = "no"
	ReachableUnknown Reachable = "unknown"
)

// VerifyErrorKind is the fixed error taxonomy used by the SMTP prober.
// Kinds, not Go error types — they are serialized verbatim on
// VerificationRecord.ErrorMsg so callers can branch on them.
type VerifyErrorKind string

const (
	ErrKindTimeout                 VerifyErrorKind = "timeout"
	ErrKindNoSuchHost              VerifyErrorKind = "no_such_host"
	ErrKindServerUnavailable       VerifyErrorKind = "server_unavailable"
	ErrKindBlocked                 VerifyErrorKind = "blocked"
	ErrKindTryAgainLater           VerifyErrorKind = "try_again_later"
	ErrKindFullInbox               VerifyErrorKind = "full_inbox"
	ErrKindTooManyRCPT             VerifyErrorKind = "too_many_rcpt"
	ErrKindNoRelay                 VerifyErrorKind = "no_relay"
	ErrKindMailboxBusy              VerifyErrorKind = "mailbox_busy"
	ErrKindExceededMessagingLimits VerifyErrorKind = "exceeded_messaging_limits"
	ErrKindNotAllowed              VerifyErrorKind = "not_allowed"
	ErrKindNeedMailBeforeRCPT      VerifyErrorKind = "need_mail_before_rcpt"
	ErrKindRecipientHasMoved       VerifyErrorKind = "recipient_has_moved"
	ErrKindGreylistExhausted       VerifyErrorKind = "greylist_retry_budget_exhausted"
)

// VerifyRequest is a durably-queued batch verification request.
// The "type" (single/CSV/API) is a caller-side prefix on RequestID and has
// no effect on core behavior, per the tagged-record design note.
type VerifyRequest struct {
	RequestID   string   `json:"request_id" db:"request_id"`
	Emails      []string `json:"emails" db:"-"`
	ResponseURL string   `json:"response_url,omitempty" db:"response_url"`
}

// VerifyResults is the Results record keyed by RequestID.
type VerifyResults struct {
	RequestID       string              `json:"request_id" db:"request_id"`
	Status          VerifyStatus        `json:"status" db:"status"`
	Verifying       bool                `json:"verifying" db:"verifying"`
	Emails          []string            `json:"-" db:"-"`
	TotalEmails     int                 `json:"total_emails" db:"total_emails"`
	CompletedEmails int                 `json:"completed_emails" db:"completed_emails"`
	Results         []VerificationRecord `json:"results,omitempty" db:"-"`
	GreylistFound   bool                `json:"greylist_found" db:"greylist_found"`
	BlacklistFound  bool                `json:"blacklist_found" db:"blacklist_found"`
	WebhookSent     bool                `json:"webhook_sent" db:"webhook_sent"`
	WebhookAttempts int                 `json:"webhook_attempts" db:"webhook_attempts"`
	ResponseURL     string              `json:"-" db:"response_url"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty" db:"completed_at"`
}

// ProgressStep derives the caller-facing progress indicator from status.
func (r VerifyResults) ProgressStep() VerifyProgressStep {
	switch r.Status {
	case VerifyStatusCompleted:
		return ProgressComplete
	case VerifyStatusFailed:
		return ProgressFailed
	case VerifyStatusQueued:
		return ProgressReceived
	default:
		if r.GreylistFound {
			return ProgressAntiGreyListing
		}
		return ProgressProcessing
	}
}

// MXHost is one MX record, ordered by preference (lowest first).
type MXHost struct {
	Host string `json:"host"`
	Pref uint16 `json:"pref"`
}

// SyntaxCheck carries the local/domain split and RFC-style validity verdict.
type SyntaxCheck struct {
	Username string `json:"username"`
	Domain   string `json:"domain"`
	Valid    bool   `json:"valid"`
}

// SMTPCheck carries the SMTP-dialogue-derived signals for one email.
type SMTPCheck struct {
	HostExists  bool `json:"host_exists"`
	FullInbox   bool `json:"full_inbox"`
	CatchAll    bool `json:"catch_all"`
	Deliverable bool `json:"deliverable"`
	Disabled    bool `json:"disabled"`
}

// VerificationRecord is the per-email result.
type VerificationRecord struct {
	Email       string      `json:"email"`
	Reachable   Reachable   `json:"reachable"`
	Syntax      SyntaxCheck `json:"syntax"`
	SMTP        SMTPCheck   `json:"smtp"`
	HasMXRecords bool       `json:"has_mx_records"`
	MX          []MXHost    `json:"mx,omitempty"`
	Disposable  bool        `json:"disposable"`
	RoleAccount bool        `json:"role_account"`
	Free        bool        `json:"free"`
	Gravatar    string      `json:"gravatar,omitempty"`
	Suggestion  string      `json:"suggestion,omitempty"`
	Error       bool        `json:"error"`
	ErrorMsg    string      `json:"error_msg,omitempty"`

	// VerifiedAt is the probe timestamp used to resolve archive/worker
	// merge conflicts.
	VerifiedAt time.Time `json:"-"`
}

// ArchiveEntry accumulates already-verified results across partial
// completions caused by greylisting.
type ArchiveEntry struct {
	RequestID   string                         `json:"request_id" db:"request_id"`
	Emails      []string                       `json:"emails" db:"-"`
	Result      map[string]VerificationRecord  `json:"result" db:"-"`
	ResponseURL string                         `json:"response_url" db:"response_url"`
}

// GreylistEntry is the Anti-Greylisting store row.
type GreylistEntry struct {
	RequestID         string    `json:"request_id" db:"request_id"`
	Emails            []string  `json:"emails" db:"-"`
	RetryCount        int       `json:"retry_count" db:"retry_count"`
	LastTriedAt       time.Time `json:"last_tried_at" db:"last_tried_at"`
	MaxRetriesReached bool      `json:"max_retries_reached" db:"max_retries_reached"`
	Returned          bool      `json:"returned" db:"returned"`
}

// WorkerSlotAssignment is one Controller-managed slot.
type WorkerSlotAssignment struct {
	SlotIndex int            `json:"slot_index" db:"slot_index"`
	Request   *VerifyRequest `json:"request,omitempty" db:"-"`
}
