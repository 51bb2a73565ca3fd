package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvusHold/certmail/internal/mailer/domain"
)

func TestSequential_OrderDelayAndSingleFailure(t *testing.T) {
	const n, k = 4, 2
	list := recipients(n)
	snd := &scriptedSender{fail: map[string]bool{list[k].Email: true}}
	delay := 500 * time.Millisecond

	start := time.Now()
	results := Sequential{Delay: delay}.Run(context.Background(),
		Route{Primary: snd, Kind: domain.Hosted}, domain.Hosted, list, composeFor("noreply@certs.dev"))
	elapsed := time.Since(start)

	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, list[i].Email, r.Email)
		assert.Equal(t, i != k, r.Success, "recipient %d", i)
		assert.Equal(t, domain.Hosted, r.Backend)
	}
	assert.Equal(t, "mailbox unavailable", results[k].Error)
	assert.Equal(t, "id-"+list[0].Email, results[0].MessageID)
	assert.GreaterOrEqual(t, elapsed, time.Duration(n-1)*delay)

	for i := 1; i < len(snd.at); i++ {
		assert.GreaterOrEqual(t, snd.at[i].Sub(snd.at[i-1]), delay)
	}
	assert.Equal(t, []string{list[0].Email, list[1].Email, list[2].Email, list[3].Email}, snd.calls)
}

func TestSequential_CancelledContextRecordsRemaining(t *testing.T) {
	list := recipients(5)
	snd := &scriptedSender{}
	ctx, cancel := context.WithCancel(context.Background())
	compose := composeFor("noreply@certs.dev")
	calls := 0
	cancelAfterTwo := func(r domain.Recipient) (domain.Message, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return compose(r)
	}

	results := Sequential{Delay: time.Second}.Run(ctx, Route{Primary: snd, Kind: domain.Hosted}, domain.Hosted, list, cancelAfterTwo)
	require.Len(t, results, 5)
	assert.True(t, results[0].Success)
	for _, r := range results[2:] {
		assert.False(t, r.Success)
		assert.Equal(t, context.Canceled.Error(), r.Error)
	}
	assert.LessOrEqual(t, len(snd.calls), 2)
}

func TestPooled_EveryRecipientOnce(t *testing.T) {
	list := recipients(23)
	snd := &scriptedSender{fail: map[string]bool{list[3].Email: true}}
	results := Pooled{Workers: 5}.Run(context.Background(), Route{Primary: snd, Kind: domain.Direct}, domain.Direct, list, composeFor("s@gmail.com"))

	require.Len(t, results, 23)
	assert.Len(t, snd.calls, 23)
	s := domain.Summarize(results)
	assert.Equal(t, 22, s.Sent)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, list[3].Email, s.Failures[0].Email)
}

func TestPooled_EmptyBatch(t *testing.T) {
	results := Pooled{Workers: 5}.Run(context.Background(), Route{Primary: &scriptedSender{}}, domain.Direct, nil, composeFor("s@gmail.com"))
	assert.Empty(t, results)
}
