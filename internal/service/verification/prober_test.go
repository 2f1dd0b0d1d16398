package verification

import (
	"context"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

type fakeSMTPClient struct {
	mailErr error
	rcptErr error
	closed  bool
}

func (c *fakeSMTPClient) Hello(string) error                    { return nil }
func (c *fakeSMTPClient) Mail(string) error                     { return c.mailErr }
func (c *fakeSMTPClient) Rcpt(string) error                     { return c.rcptErr }
func (c *fakeSMTPClient) Extension(string) (bool, string)       { return false, "" }
func (c *fakeSMTPClient) Reset() error                          { return nil }
func (c *fakeSMTPClient) Quit() error                            { return nil }
func (c *fakeSMTPClient) Close() error                           { c.closed = true; return nil }

func newTestProber(rcptErr error) *SMTPProber {
	p := NewSMTPProber("verify.test", "probe@verify.test", time.Second, time.Second, nil)
	p.EnableCatchAll = false
	p.dial = func(ctx context.Context, host string, timeout time.Duration) (smtpClient, error) {
		return &fakeSMTPClient{rcptErr: rcptErr}, nil
	}
	p.lookupMX = func(ctx context.Context, domainPart string) ([]domain_MX, error) {
		return []domain_MX{{Host: "mx1." + domainPart, Pref: 10}}, nil
	}
	return p
}

func TestSplitEmail(t *testing.T) {
	local, domainPart, valid := splitEmail("user@example.com")
	assert.True(t, valid)
	assert.Equal(t, "user", local)
	assert.Equal(t, "example.com", domainPart)

	_, _, valid = splitEmail("not-an-email")
	assert.False(t, valid)

	_, _, valid = splitEmail("user@")
	assert.False(t, valid)
}

func TestProbe_DeliverableOnPositiveRCPT(t *testing.T) {
	p := newTestProber(nil)
	outcome := p.Probe(context.Background(), "user@example.com")

	require.False(t, outcome.Greylisted)
	assert.Equal(t, domain.ReachableYes, outcome.Record.Reachable)
	assert.True(t, outcome.Record.SMTP.Deliverable)
	assert.True(t, outcome.Record.HasMXRecords)
}

func TestProbe_InvalidSyntaxShortCircuits(t *testing.T) {
	p := newTestProber(nil)
	outcome := p.Probe(context.Background(), "not-an-email")

	assert.False(t, outcome.Record.Syntax.Valid)
	assert.Equal(t, domain.ReachableNo, outcome.Record.Reachable)
}

func TestProbe_4xxSignalsGreylist(t *testing.T) {
	p := newTestProber(&textproto.Error{Code: 450, Msg: "4.2.1 try again later"})
	outcome := p.Probe(context.Background(), "user@example.com")

	assert.True(t, outcome.Greylisted)
}

func TestProbe_5xxFullInbox(t *testing.T) {
	p := newTestProber(&textproto.Error{Code: 552, Msg: "mailbox full, over quota"})
	outcome := p.Probe(context.Background(), "user@example.com")

	assert.False(t, outcome.Greylisted)
	assert.True(t, outcome.Record.SMTP.FullInbox)
	assert.Equal(t, domain.ReachableNo, outcome.Record.Reachable)
}

func TestProbe_5xxNoSuchUser(t *testing.T) {
	p := newTestProber(&textproto.Error{Code: 550, Msg: "5.1.1 no such user here"})
	outcome := p.Probe(context.Background(), "user@example.com")

	assert.False(t, outcome.Greylisted)
	assert.Equal(t, domain.ReachableNo, outcome.Record.Reachable)
}

func TestClassifyConnectError_Timeout(t *testing.T) {
	outcome := classifyConnectError(context.DeadlineExceeded)
	assert.Equal(t, domain.ErrKindTimeout, outcome.errorKind)
	assert.True(t, outcome.isError)
}

func TestIsDisposableAndFreeAndRole(t *testing.T) {
	assert.True(t, isDisposableDomain("mailinator.com"))
	assert.False(t, isDisposableDomain("example.com"))
	assert.True(t, isFreeProvider("gmail.com"))
	assert.True(t, isRoleAccount("support"))
	assert.False(t, isRoleAccount("jsmith"))
}

func TestGravatarHash_IsStableAndCaseInsensitive(t *testing.T) {
	a := gravatarHash("User@Example.com")
	b := gravatarHash("user@example.com")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}
