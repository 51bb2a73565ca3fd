package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/dispatch/domain"
	evdomain "github.com/corvusHold/certmail/internal/events/domain"
	evsvc "github.com/corvusHold/certmail/internal/events/service"
	mdomain "github.com/corvusHold/certmail/internal/mailer/domain"
	msvc "github.com/corvusHold/certmail/internal/mailer/service"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
	"github.com/corvusHold/certmail/internal/platform/smtpconn/smtptest"
	"github.com/corvusHold/certmail/internal/sendlog"
)

var cred = cdomain.Credential{Address: "sender@gmail.com", Secret: "abcdefghijklmnop"}

type memLog struct {
	mu      sync.Mutex
	entries []sendlog.Entry
	err     error
}

func (m *memLog) Append(_ context.Context, e []sendlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e...)
	return m.err
}

type hostedStub struct {
	mu   sync.Mutex
	from []string
}

func (h *hostedStub) Send(_ context.Context, msg mdomain.Message) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.from = append(h.from, msg.From)
	if msg.To == "bad@example.com" {
		return "", errors.New("invalid recipient")
	}
	return "hosted-" + msg.To, nil
}

func list(n int) []mdomain.Recipient {
	out := make([]mdomain.Recipient, n)
	for i := range out {
		out[i] = mdomain.Recipient{Email: fmt.Sprintf("r%02d@example.com", i), Name: fmt.Sprintf("R%d", i), Certificate: []byte("\x89PNG\r\n\x1a\n")}
	}
	return out
}

type fixture struct {
	svc    *Service
	srv    *smtptest.Server
	hosted *hostedStub
	log    *memLog
	events *evsvc.Memory
	pools  *msvc.PoolHandle
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	srv, err := smtptest.Start(&smtptest.Server{})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	dir := cdomain.NewDirectory(cdomain.Provider{Name: "local", Pattern: "gmail.com", Class: cdomain.ClassConsumer,
		Host: srv.Host(), Port: srv.Port(), Security: cdomain.SecurityNone})
	smtp := msvc.SMTPOptions{Timeouts: smtpconn.Timeouts{Dial: 2 * time.Second, Greeting: 2 * time.Second, Socket: 2 * time.Second}}

	hosted := &hostedStub{}
	pools := msvc.NewPoolHandle(dir, msvc.PoolConfig{MaxConnections: 5, MaxMessages: 100, RatePerSecond: 1000, SMTP: smtp})
	composer, err := msvc.NewComposer("", "Team")
	require.NoError(t, err)
	ml := &memLog{}
	ev := evsvc.NewMemory()
	s := New(msvc.NewRouter(hosted, dir, smtp, false), pools, composer, ml, ev, Options{
		PooledThreshold: 50, SendDelay: time.Millisecond, HostedFrom: "noreply@certs.dev", HostedFromName: "Certs",
	})
	return fixture{svc: s, srv: srv, hosted: hosted, log: ml, events: ev, pools: pools}
}

func TestSelectStrategy(t *testing.T) {
	cases := []struct {
		name     string
		n        int
		backend  mdomain.Kind
		override mdomain.Strategy
		want     mdomain.Strategy
	}{
		{"49 direct", 49, mdomain.Direct, "", mdomain.Sequential},
		{"50 direct", 50, mdomain.Direct, "", mdomain.Pooled},
		{"10 pooled override", 10, mdomain.Direct, mdomain.Pooled, mdomain.Pooled},
		{"80 sequential override", 80, mdomain.Direct, mdomain.Sequential, mdomain.Sequential},
		{"hosted never pooled", 80, mdomain.Hosted, "", mdomain.Sequential},
		{"hosted pooled override downgraded", 10, mdomain.Hosted, mdomain.Pooled, mdomain.Sequential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := domain.Batch{Recipients: list(tc.n), Backend: tc.backend, Strategy: tc.override}
			assert.Equal(t, tc.want, SelectStrategy(b, 50))
		})
	}
}

func TestDispatchBatch_DirectWithoutCredential(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DispatchBatch(context.Background(), domain.Batch{Recipients: list(1), Backend: mdomain.Direct})
	require.ErrorIs(t, err, cdomain.ErrCredentialRequired)
	assert.Empty(t, f.log.entries)
}

func TestDispatchBatch_UnknownBackend(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DispatchBatch(context.Background(), domain.Batch{Recipients: list(1), Backend: "fax"})
	require.Error(t, err)
}

func TestDispatchBatch_HostedSequential(t *testing.T) {
	f := newFixture(t)
	rs := list(3)
	rs[1].Email = "bad@example.com"

	rep, err := f.svc.DispatchBatch(context.Background(), domain.Batch{Recipients: rs, Backend: mdomain.Hosted})
	require.NoError(t, err)
	assert.Equal(t, mdomain.Sequential, rep.Strategy)
	assert.Equal(t, mdomain.Hosted, rep.Backend)
	assert.Equal(t, 2, rep.Sent)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "bad@example.com", rep.Failures[0].Email)
	assert.False(t, rep.Success())
	assert.Equal(t, []string{"noreply@certs.dev", "noreply@certs.dev", "noreply@certs.dev"}, f.hosted.from)

	require.Len(t, f.log.entries, 3)
	assert.Equal(t, rep.BatchID, f.log.entries[0].BatchID)
	assert.Equal(t, "sequential", f.log.entries[0].Strategy)

	evs := f.events.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, evdomain.TypeBatchCompleted, evs[0].Type)
	assert.Equal(t, "2", evs[0].Meta["sent"])
	assert.Equal(t, "1", evs[0].Meta["failed"])
}

func TestDispatchBatch_DirectPooledAtThreshold(t *testing.T) {
	f := newFixture(t)
	c := cred
	rep, err := f.svc.DispatchBatch(context.Background(), domain.Batch{Recipients: list(50), Backend: mdomain.Direct, Credential: &c})
	require.NoError(t, err)
	assert.Equal(t, mdomain.Pooled, rep.Strategy)
	assert.Equal(t, 50, rep.Sent)
	assert.True(t, rep.Success())
	assert.Len(t, f.srv.Messages(), 50)
	assert.LessOrEqual(t, f.srv.MaxConcurrent(), 5)
	assert.False(t, f.pools.Active())
	for _, m := range f.srv.Messages() {
		assert.Equal(t, cred.Address, m.From)
	}
}

func TestDispatchBatch_DirectSequentialBelowThreshold(t *testing.T) {
	f := newFixture(t)
	c := cred
	rep, err := f.svc.DispatchBatch(context.Background(), domain.Batch{Recipients: list(3), Backend: mdomain.Direct, Credential: &c})
	require.NoError(t, err)
	assert.Equal(t, mdomain.Sequential, rep.Strategy)
	assert.Equal(t, 3, rep.Sent)
	assert.Equal(t, 3, f.srv.Connections())
}

func TestDispatchBatch_SendLogFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.log.err = errors.New("db down")
	rep, err := f.svc.DispatchBatch(context.Background(), domain.Batch{Recipients: list(2), Backend: mdomain.Hosted})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Sent)
	assert.Len(t, f.events.Events(), 1)
}
