package verification

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// Prober performs one DNS + SMTP dialogue for a single email and returns a
// verification record, or a greylist signal. It is stateless and
// safe for concurrent use by multiple workers.
type Prober interface {
	Probe(ctx context.Context, email string) ProbeOutcome
}

// ProbeOutcome is what a Prober returns for one email. Exactly one of
// Record or Greylisted is meaningful: a greylisted email does not get a
// final record.
type ProbeOutcome struct {
	Record     domain.VerificationRecord
	Greylisted bool
}

// smtpClient is the subset of *smtp.Client the prober drives. Abstracted
// so tests can substitute a fake dialogue without a live network.
type smtpClient interface {
	Hello(localName string) error
	Mail(from string) error
	Rcpt(to string) error
	Extension(ext string) (bool, string)
	Reset() error
	Quit() error
	Close() error
}

// dialFunc opens an SMTP session against host:25. Swappable in tests.
type dialFunc func(ctx context.Context, host string, timeout time.Duration) (smtpClient, error)

// mxLookupFunc resolves MX records for a domain. Swappable in tests.
type mxLookupFunc func(ctx context.Context, domain string) ([]domain_MX, error)

// domain_MX is the prober's own MX record (host and preference); it mirrors
// net.MX. Probe copies each one into a domain.MXHost on the record.
type domain_MX struct {
	Host string
	Pref uint16
}

// SMTPProber is the default Prober, grounded on net/smtp dialogues the way
// the pack's own SMTP verifiers drive them (EHLO -> MAIL FROM -> RCPT TO).
type SMTPProber struct {
	EHLOHostname    string
	MailFromAddress string
	ConnectTimeout  time.Duration
	RCPTTimeout     time.Duration
	EnableCatchAll  bool

	dial     dialFunc
	lookupMX mxLookupFunc

	mxCache *MXCache // optional Redis-backed cache; nil disables caching
}

// NewSMTPProber builds a Prober using real net/smtp + DNS.
func NewSMTPProber(ehloHostname, mailFrom string, connectTimeout, rcptTimeout time.Duration, mxCache *MXCache) *SMTPProber {
	if ehloHostname == "" {
		ehloHostname = "verify.localhost"
	}
	if mailFrom == "" {
		mailFrom = "probe@verify.localhost"
	}
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	if rcptTimeout <= 0 {
		rcptTimeout = 60 * time.Second
	}
	return &SMTPProber{
		EHLOHostname:    ehloHostname,
		MailFromAddress: mailFrom,
		ConnectTimeout:  connectTimeout,
		RCPTTimeout:     rcptTimeout,
		EnableCatchAll:  true,
		dial:            dialSMTP,
		lookupMX:        lookupMXRecords,
		mxCache:         mxCache,
	}
}

var emailSyntaxRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// splitEmail performs the RFC-style local/domain split.
func splitEmail(email string) (local, domainPart string, valid bool) {
	email = strings.TrimSpace(email)
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if !emailSyntaxRegexp.MatchString(email) || len(email) > 320 {
		return parts[0], parts[1], false
	}
	return parts[0], parts[1], true
}

// Probe runs the full probe state machine for one email.
func (p *SMTPProber) Probe(ctx context.Context, email string) ProbeOutcome {
	email = strings.TrimSpace(email)
	rec := domain.VerificationRecord{
		Email:      email,
		Gravatar:   gravatarHash(email),
		VerifiedAt: time.Now(),
	}

	// Step 1: syntax
	local, domainPart, valid := splitEmail(email)
	rec.Syntax = domain.SyntaxCheck{Username: local, Domain: domainPart, Valid: valid}
	if !valid {
		rec.Reachable = domain.ReachableNo
		return ProbeOutcome{Record: rec}
	}

	rec.Disposable = isDisposableDomain(domainPart)
	rec.RoleAccount = isRoleAccount(local)
	rec.Free = isFreeProvider(domainPart)

	// Step 2: MX lookup
	mxs, err := p.resolveMX(ctx, domainPart)
	if err != nil || len(mxs) == 0 {
		rec.HasMXRecords = false
		rec.Reachable = domain.ReachableNo
		return ProbeOutcome{Record: rec}
	}
	rec.HasMXRecords = true
	rec.MX = make([]domain.MXHost, len(mxs))
	for i, mx := range mxs {
		rec.MX[i] = domain.MXHost{Host: mx.Host, Pref: mx.Pref}
	}

	// Steps 3-5: connect + dialogue against MX hosts, lowest preference first.
	var lastOutcome smtpReplyOutcome
	var dialed bool
	for _, mx := range mxs {
		outcome, derr := p.dialogue(ctx, mx.Host, email)
		if derr != nil {
			lastOutcome = classifyConnectError(derr)
			continue
		}
		dialed = true
		lastOutcome = outcome
		break
	}

	if !dialed {
		rec.Reachable = lastOutcome.reachable
		rec.Error = true
		rec.ErrorMsg = string(lastOutcome.errorKind)
		return ProbeOutcome{Record: rec}
	}

	if lastOutcome.greylist {
		return ProbeOutcome{Greylisted: true, Record: rec}
	}

	rec.Reachable = lastOutcome.reachable
	rec.SMTP = lastOutcome.smtp
	if lastOutcome.isError {
		rec.Error = true
		rec.ErrorMsg = string(lastOutcome.errorKind)
	}

	// Step 6: catch-all detection, only meaningful after a positive RCPT.
	if p.EnableCatchAll && lastOutcome.smtp.Deliverable {
		if isCatchAll, _ := p.probeCatchAll(ctx, mxs[0].Host, domainPart); isCatchAll {
			rec.SMTP.CatchAll = true
			// Open Question (c): keep reachable=yes, catch_all=true rather
			// than demoting — the probe did receive a positive RCPT.
		}
	}

	return ProbeOutcome{Record: rec}
}

func (p *SMTPProber) resolveMX(ctx context.Context, domainPart string) ([]domain_MX, error) {
	if p.mxCache != nil {
		if cached, ok := p.mxCache.Get(ctx, domainPart); ok {
			return cached, nil
		}
	}
	mxs, err := p.lookupMX(ctx, domainPart)
	if err != nil {
		return nil, err
	}
	if p.mxCache != nil {
		p.mxCache.Set(ctx, domainPart, mxs)
	}
	return mxs, nil
}

type smtpReplyOutcome struct {
	greylist  bool
	reachable domain.Reachable
	smtp      domain.SMTPCheck
	errorKind domain.VerifyErrorKind
	isError   bool
}

// dialogue performs HELO/EHLO -> MAIL FROM -> RCPT TO against one MX host.
func (p *SMTPProber) dialogue(ctx context.Context, host, rcptTo string) (smtpReplyOutcome, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()

	client, err := p.dial(dialCtx, host, p.ConnectTimeout)
	if err != nil {
		return smtpReplyOutcome{}, err
	}
	defer client.Close()

	if err := client.Hello(p.EHLOHostname); err != nil {
		return smtpReplyOutcome{}, fmt.Errorf("EHLO: %w", err)
	}
	if err := client.Mail(p.MailFromAddress); err != nil {
		return classifySMTPError(err), nil
	}
	if err := client.Rcpt(rcptTo); err != nil {
		outcome := classifySMTPError(err)
		_ = client.Reset()
		return outcome, nil
	}
	_ = client.Reset()
	return smtpReplyOutcome{reachable: domain.ReachableYes, smtp: domain.SMTPCheck{Deliverable: true}}, nil
}

// probeCatchAll sends one additional RCPT to a random local part at the
// same domain.
func (p *SMTPProber) probeCatchAll(ctx context.Context, host, domainPart string) (bool, error) {
	probeLocal := fmt.Sprintf("probe-catchall-%d", time.Now().UnixNano())
	probeEmail := probeLocal + "@" + domainPart

	dialCtx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()
	client, err := p.dial(dialCtx, host, p.ConnectTimeout)
	if err != nil {
		return false, err
	}
	defer client.Close()

	if err := client.Hello(p.EHLOHostname); err != nil {
		return false, err
	}
	if err := client.Mail(p.MailFromAddress); err != nil {
		return false, err
	}
	err = client.Rcpt(probeEmail)
	_ = client.Reset()
	return err == nil, nil
}

// classifySMTPError maps a net/smtp *textproto.Error (or a bare error) to
// the fixed error-kind taxonomy.
func classifySMTPError(err error) smtpReplyOutcome {
	tpErr, ok := err.(*textproto.Error)
	if !ok {
		return classifyConnectError(err)
	}

	msg := strings.ToLower(tpErr.Msg)
	code := tpErr.Code

	switch {
	case code >= 200 && code < 300:
		return smtpReplyOutcome{reachable: domain.ReachableYes, smtp: domain.SMTPCheck{Deliverable: true}}

	case code >= 400 && code < 500:
		switch {
		case strings.Contains(msg, "too many recipients"):
			return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: domain.ErrKindTooManyRCPT}
		case strings.Contains(msg, "mailbox busy") || strings.Contains(msg, "mailbox temporarily"):
			return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: domain.ErrKindMailboxBusy}
		default:
			// Standard 4xx: "try again later" / throttling / temporary
			// refusal -> greylist signal, handled by the caller/Controller.
			return smtpReplyOutcome{greylist: true}
		}

	case code >= 500:
		switch {
		case strings.Contains(msg, "full") || strings.Contains(msg, "quota") || strings.Contains(msg, "over quota"):
			return smtpReplyOutcome{reachable: domain.ReachableNo, smtp: domain.SMTPCheck{FullInbox: true}}
		case strings.Contains(msg, "disabled") || strings.Contains(msg, "inactive") || strings.Contains(msg, "suspended"):
			return smtpReplyOutcome{reachable: domain.ReachableNo, smtp: domain.SMTPCheck{Disabled: true}}
		case strings.Contains(msg, "relay not permitted") || strings.Contains(msg, "relaying denied") || strings.Contains(msg, "no relay"):
			return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: domain.ErrKindNoRelay}
		case strings.Contains(msg, "please try") || strings.Contains(msg, "user not local"):
			return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: domain.ErrKindRecipientHasMoved}
		case strings.Contains(msg, "not allowed") || strings.Contains(msg, "access denied") || strings.Contains(msg, "policy"):
			return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: domain.ErrKindNotAllowed}
		case strings.Contains(msg, "need mail") || strings.Contains(msg, "mail from"):
			return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: domain.ErrKindNeedMailBeforeRCPT}
		default:
			// 5xx "no such user" — permanent, no further taxonomy needed.
			return smtpReplyOutcome{reachable: domain.ReachableNo}
		}

	default:
		return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: domain.ErrKindServerUnavailable}
	}
}

// classifyConnectError maps connect/timeout/DNS failures to the fixed taxonomy.
func classifyConnectError(err error) smtpReplyOutcome {
	if err == nil {
		return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: domain.ErrKindServerUnavailable}
	}
	msg := strings.ToLower(err.Error())
	kind := domain.ErrKindServerUnavailable
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		kind = domain.ErrKindTimeout
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "not found") || strings.Contains(msg, "nxdomain"):
		kind = domain.ErrKindNoSuchHost
	case strings.Contains(msg, "blocked") || strings.Contains(msg, "blacklisted"):
		kind = domain.ErrKindBlocked
	case strings.Contains(msg, "refused") || strings.Contains(msg, "unreachable") || strings.Contains(msg, "reset"):
		kind = domain.ErrKindServerUnavailable
	}
	return smtpReplyOutcome{reachable: domain.ReachableUnknown, isError: true, errorKind: kind}
}

// --- real network implementation -------------------------------------------

func dialSMTP(ctx context.Context, host string, timeout time.Duration) (smtpClient, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, "25"))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}

func lookupMXRecords(ctx context.Context, domainPart string) ([]domain_MX, error) {
	resolver := net.Resolver{}
	mxs, err := resolver.LookupMX(ctx, domainPart)
	if err != nil || len(mxs) == 0 {
		// No MX records: fall back to a bare A/AAAA lookup before
		// concluding the domain has no mail infrastructure at all.
		if _, aerr := resolver.LookupHost(ctx, domainPart); aerr == nil {
			return []domain_MX{{Host: domainPart, Pref: 0}}, nil
		}
		return nil, err
	}

	out := make([]domain_MX, len(mxs))
	for i, mx := range mxs {
		out[i] = domain_MX{Host: strings.TrimSuffix(mx.Host, "."), Pref: mx.Pref}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pref < out[j].Pref })
	return out, nil
}

func gravatarHash(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
