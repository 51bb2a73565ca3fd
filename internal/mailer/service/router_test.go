package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/mailer/domain"
	"github.com/corvusHold/certmail/internal/platform/smtpconn/smtptest"
)

func TestRouter_DirectRequiresCredential(t *testing.T) {
	r := NewRouter(&scriptedSender{}, cdomain.DefaultDirectory(), fastSMTP, false)
	_, err := r.Route(domain.Direct, nil)
	require.ErrorIs(t, err, cdomain.ErrCredentialRequired)

	_, err = r.Route(domain.Kind("pigeon"), nil)
	require.Error(t, err)
}

func TestRouter_HostedWithoutFailover(t *testing.T) {
	hosted := &scriptedSender{fail: map[string]bool{"a@x.com": true}}
	r := NewRouter(hosted, cdomain.DefaultDirectory(), fastSMTP, false)
	d, err := r.Route(domain.Hosted, &testCred)
	require.NoError(t, err)

	_, kind, err := d.Dispatch(context.Background(), domain.Message{From: "noreply@certs.dev", To: "a@x.com"})
	require.Error(t, err)
	assert.Equal(t, domain.Hosted, kind)
}

func TestRouter_FailoverRetriesOnceOverDirect(t *testing.T) {
	srv, dir := startSMTP(t, &smtptest.Server{})
	hosted := &scriptedSender{fail: map[string]bool{"a@x.com": true}}
	r := NewRouter(hosted, dir, fastSMTP, true)
	d, err := r.Route(domain.Hosted, &testCred)
	require.NoError(t, err)

	id, kind, err := d.Dispatch(context.Background(), domain.Message{From: "noreply@certs.dev", To: "a@x.com", HTML: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, domain.Direct, kind)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, testCred.Address, msgs[0].From)
	assert.Contains(t, string(msgs[0].Data), "From: <"+testCred.Address+">")

	id, kind, err = d.Dispatch(context.Background(), domain.Message{From: "noreply@certs.dev", To: "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.Hosted, kind)
	assert.Equal(t, "id-b@x.com", id)
	assert.Len(t, srv.Messages(), 1)
}
