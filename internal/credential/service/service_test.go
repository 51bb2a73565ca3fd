package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/corvusHold/certmail/internal/credential/domain"
	evdomain "github.com/corvusHold/certmail/internal/events/domain"
	evsvc "github.com/corvusHold/certmail/internal/events/service"
	"github.com/corvusHold/certmail/internal/platform/ratelimit"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
	"github.com/corvusHold/certmail/internal/platform/smtpconn/smtptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeProber) Probe(context.Context, domain.Provider, domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

const goodSecret = "abcd efgh ijkl mnop"

func newTestService(p Prober, opts Options) (*Service, *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := New(domain.DefaultDirectory(), ratelimit.NewMemoryStoreWithClock(clk.Now), p, nil, opts)
	svc.now = clk.Now
	return svc, clk
}

func TestValidate_SixthAttemptRateLimitedThenWindowResets(t *testing.T) {
	p := &fakeProber{}
	svc, clk := newTestService(p, Options{})
	ctx := context.Background()
	req := Request{Address: "user@gmail.com", Secret: goodSecret, ClientIP: "10.0.0.1", Encrypted: true}

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Validate(ctx, req), "attempt %d", i+1)
	}
	err := svc.Validate(ctx, req)
	var rl domain.ErrRateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, clk.Now().Add(15*time.Minute), rl.ResetAt)
	assert.Equal(t, 5, p.calls)

	// another client is unaffected
	other := req
	other.ClientIP = "10.0.0.2"
	require.NoError(t, svc.Validate(ctx, other))

	clk.Advance(15 * time.Minute)
	require.NoError(t, svc.Validate(ctx, req))
	assert.Equal(t, 7, p.calls)
}

func TestValidate_FailedAttemptsCountTowardsLimit(t *testing.T) {
	p := &fakeProber{}
	svc, _ := newTestService(p, Options{Limit: 2})
	ctx := context.Background()
	bad := Request{Address: "user@notgmail.org", Secret: goodSecret, ClientIP: "1.1.1.1", Encrypted: true}

	var f domain.ErrInvalidFormat
	require.ErrorAs(t, svc.Validate(ctx, bad), &f)
	require.ErrorAs(t, svc.Validate(ctx, bad), &f)

	good := bad
	good.Address = "user@gmail.com"
	var rl domain.ErrRateLimited
	require.ErrorAs(t, svc.Validate(ctx, good), &rl)
	assert.Zero(t, p.calls)
}

func TestValidate_FormatErrorsBeforeLiveCheck(t *testing.T) {
	cases := []struct {
		name, addr, secret, reason string
	}{
		{"short secret", "user@gmail.com", "abcdefghijklmno", "app password must be exactly 16 characters"},
		{"long secret", "user@gmail.com", "abcdefghijklmnopq", "app password must be exactly 16 characters"},
		{"symbol", "user@gmail.com", "abcdefghijklmno!", "app password must contain only letters and digits"},
		{"domain", "user@notgmail.org", goodSecret, "email must be a Gmail address or an institutional .edu.in address"},
		{"missing email", "", goodSecret, "email is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakeProber{}
			svc, _ := newTestService(p, Options{})
			err := svc.Validate(context.Background(), Request{Address: tc.addr, Secret: tc.secret, ClientIP: "ip", Encrypted: true})
			var f domain.ErrInvalidFormat
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tc.reason, f.Reason)
			assert.Zero(t, p.calls)
		})
	}
}

func TestValidate_InsecureTransportInProduction(t *testing.T) {
	p := &fakeProber{}
	svc, _ := newTestService(p, Options{RequireTLS: true})
	err := svc.Validate(context.Background(), Request{Address: "user@gmail.com", Secret: goodSecret, ClientIP: "ip"})
	require.ErrorIs(t, err, domain.ErrInsecureTransport)
	assert.Zero(t, p.calls)

	require.NoError(t, svc.Validate(context.Background(), Request{Address: "user@gmail.com", Secret: goodSecret, ClientIP: "ip", Encrypted: true}))
}

func TestValidate_AuthFailureHintsByClass(t *testing.T) {
	p := &fakeProber{err: &smtpconn.AuthError{Err: errors.New("535 rejected")}}
	mem := evsvc.NewMemory()
	svc, _ := newTestService(p, Options{})
	svc.pub = mem

	var consumer, institutional domain.ErrAuthenticationFailed
	require.ErrorAs(t, svc.Validate(context.Background(), Request{Address: "user@gmail.com", Secret: goodSecret, ClientIP: "a", Encrypted: true}), &consumer)
	require.ErrorAs(t, svc.Validate(context.Background(), Request{Address: "student@college.edu.in", Secret: goodSecret, ClientIP: "a", Encrypted: true}), &institutional)

	assert.Contains(t, institutional.Hint, "IT administrator")
	assert.NotContains(t, consumer.Hint, "IT administrator")
	assert.Greater(t, len(institutional.Hint), len(consumer.Hint))

	evs := mem.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, evdomain.TypeCredentialRejected, evs[0].Type)
	assert.Equal(t, "auth_failed", evs[0].Meta["result"])
	for _, e := range evs {
		for _, v := range e.Meta {
			assert.NotContains(t, v, "@")
			assert.NotContains(t, v, "abcd")
		}
	}
}

func TestValidate_NetworkFailureSurfacesAsAuthFailed(t *testing.T) {
	p := &fakeProber{err: &smtpconn.OpError{Op: "dial", Err: errors.New("connection refused")}}
	svc, _ := newTestService(p, Options{})
	err := svc.Validate(context.Background(), Request{Address: "user@gmail.com", Secret: goodSecret, ClientIP: "a", Encrypted: true})

	var af domain.ErrAuthenticationFailed
	require.ErrorAs(t, err, &af)
	var ne domain.ErrNetwork
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "dial", ne.Op)
}

func TestSMTPProber_AgainstFakeServer(t *testing.T) {
	srv, err := smtptest.Start(&smtptest.Server{Users: map[string]string{"user@gmail.com": "abcdefghijklmnop"}})
	require.NoError(t, err)
	defer srv.Close()

	dir := domain.NewDirectory(domain.Provider{
		Name: "local", Pattern: "gmail.com", Class: domain.ClassConsumer,
		Host: srv.Host(), Port: srv.Port(), Security: domain.SecurityNone,
	})
	svc := New(dir, ratelimit.NewMemoryStore(), SMTPProber{Timeouts: smtpconn.Timeouts{Dial: time.Second, Greeting: time.Second, Socket: time.Second}}, nil, Options{})

	require.NoError(t, svc.Validate(context.Background(), Request{Address: "user@gmail.com", Secret: goodSecret, ClientIP: "a", Encrypted: true}))

	err = svc.Validate(context.Background(), Request{Address: "user@gmail.com", Secret: "zzzz zzzz zzzz zzzz", ClientIP: "a", Encrypted: true})
	var af domain.ErrAuthenticationFailed
	require.ErrorAs(t, err, &af)
	assert.True(t, smtpconn.IsAuth(err))

	require.Eventually(t, func() bool { return srv.Open() == 0 }, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, srv.Quits(), 1)
}
