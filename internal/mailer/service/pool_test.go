package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/mailer/domain"
	"github.com/corvusHold/certmail/internal/platform/smtpconn/smtptest"
)

func fastPool(smtp SMTPOptions) PoolConfig {
	return PoolConfig{MaxConnections: 5, MaxMessages: 100, RatePerSecond: 1000, SMTP: smtp}
}

func TestPooled_SixtyRecipientsThreeFailures(t *testing.T) {
	list := recipients(60)
	reject := map[string]bool{list[7].Email: true, list[23].Email: true, list[51].Email: true}
	srv, dir := startSMTP(t, &smtptest.Server{RejectRcpt: reject, Delay: 5 * time.Millisecond})

	h := NewPoolHandle(dir, fastPool(fastSMTP))
	pool, release, err := h.Get(context.Background(), testCred)
	require.NoError(t, err)

	results := Pooled{Workers: pool.Capacity()}.Run(context.Background(),
		Route{Primary: pool, Kind: domain.Direct}, domain.Direct, list, composeFor(testCred.Address))
	release()

	require.Len(t, results, 60)
	seen := map[string]bool{}
	failed := 0
	for i, r := range results {
		assert.Equal(t, list[i].Email, r.Email)
		assert.False(t, seen[r.Email], "duplicate result for %s", r.Email)
		seen[r.Email] = true
		if !r.Success {
			failed++
			assert.True(t, reject[r.Email])
			assert.Contains(t, r.Error, "rcpt to")
		}
	}
	assert.Equal(t, 3, failed)
	assert.Len(t, srv.Messages(), 57)
	assert.LessOrEqual(t, srv.MaxConcurrent(), 5)

	assert.False(t, h.Active())
	require.Eventually(t, func() bool { return srv.Open() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, err = pool.Send(context.Background(), domain.Message{From: testCred.Address, To: "late@example.com"})
	require.ErrorIs(t, err, domain.ErrPoolClosed)
}

func TestPool_RotatesAfterMaxMessages(t *testing.T) {
	srv, dir := startSMTP(t, &smtptest.Server{})
	cfg := fastPool(fastSMTP)
	cfg.MaxConnections, cfg.MaxMessages = 1, 2
	p, err := NewPool(testCred, dir, cfg)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	compose := composeFor(testCred.Address)
	for _, r := range recipients(6) {
		msg, err := compose(r)
		require.NoError(t, err)
		_, err = p.Send(context.Background(), msg)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, srv.Connections())
	assert.Len(t, srv.Messages(), 6)
}

func TestPool_ThroughputIsShaped(t *testing.T) {
	_, dir := startSMTP(t, &smtptest.Server{})
	cfg := fastPool(fastSMTP)
	cfg.RatePerSecond = 20
	p, err := NewPool(testCred, dir, cfg)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	start := time.Now()
	Pooled{Workers: 5}.Run(context.Background(), Route{Primary: p, Kind: domain.Direct}, domain.Direct, recipients(11), composeFor(testCred.Address))
	// burst of 1, then 10 more tokens at 20/s
	assert.GreaterOrEqual(t, time.Since(start), 450*time.Millisecond)
}

func TestPoolHandle_SharesPoolPerCredential(t *testing.T) {
	_, dir := startSMTP(t, &smtptest.Server{})
	h := NewPoolHandle(dir, fastPool(fastSMTP))
	ctx := context.Background()

	p1, rel1, err := h.Get(ctx, testCred)
	require.NoError(t, err)
	p2, rel2, err := h.Get(ctx, testCred)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	other := cdomain.Credential{Address: "other@gmail.com", Secret: "ponmlkjihgfedcba"}
	got := make(chan *Pool, 1)
	go func() {
		p, rel, err := h.Get(ctx, other)
		if err == nil {
			defer rel()
		}
		got <- p
	}()

	rel1()
	rel1() // idempotent
	select {
	case <-got:
		t.Fatal("other credential must wait for the pool to drain")
	case <-time.After(50 * time.Millisecond):
	}
	rel2()
	select {
	case p3 := <-got:
		require.NotNil(t, p3)
		assert.NotSame(t, p1, p3)
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func TestPoolHandle_CloseRejectsNewLeases(t *testing.T) {
	_, dir := startSMTP(t, &smtptest.Server{})
	h := NewPoolHandle(dir, fastPool(fastSMTP))
	_, rel, err := h.Get(context.Background(), testCred)
	require.NoError(t, err)

	require.NoError(t, h.Close(context.Background()))
	require.NoError(t, h.Close(context.Background()))
	rel()

	_, _, err = h.Get(context.Background(), testCred)
	require.ErrorIs(t, err, domain.ErrPoolClosed)
}

func TestPoolHandle_WaitHonoursContext(t *testing.T) {
	_, dir := startSMTP(t, &smtptest.Server{})
	h := NewPoolHandle(dir, fastPool(fastSMTP))
	_, rel, err := h.Get(context.Background(), testCred)
	require.NoError(t, err)
	defer rel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err = h.Get(ctx, cdomain.Credential{Address: "other@gmail.com", Secret: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
