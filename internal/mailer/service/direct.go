package service

import (
	"context"
	"crypto/tls"
	"time"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/mailer/domain"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
)

// Ensure Direct implements domain.Sender
var _ domain.Sender = (*Direct)(nil)

// SMTPOptions carries transport settings shared by Direct and Pool.
type SMTPOptions struct {
	Timeouts  smtpconn.Timeouts
	TLSConfig *tls.Config
}

func (o SMTPOptions) session(cred cdomain.Credential) smtpconn.Options {
	return smtpconn.Options{
		Username:  cred.Address,
		Password:  cred.Secret,
		Timeouts:  o.Timeouts,
		TLSConfig: o.TLSConfig,
	}
}

func endpointFor(p cdomain.Provider) smtpconn.Endpoint {
	return smtpconn.Endpoint{Host: p.Host, Port: p.Port, Security: smtpconn.Security(p.Security)}
}

// Direct is single-use SMTP submission: every Send opens, authenticates,
// transmits and quits.
type Direct struct {
	cred cdomain.Credential
	ep   smtpconn.Endpoint
	opts SMTPOptions
	now  func() time.Time
}

// NewDirect resolves the submission endpoint for cred from dir.
func NewDirect(cred cdomain.Credential, dir *cdomain.Directory, opts SMTPOptions) (*Direct, error) {
	p, err := dir.Lookup(cred.Address)
	if err != nil {
		return nil, err
	}
	return &Direct{cred: cred, ep: endpointFor(p), opts: opts, now: time.Now}, nil
}

func (d *Direct) Send(ctx context.Context, msg domain.Message) (string, error) {
	s, err := smtpconn.Open(ctx, d.ep, d.opts.session(d.cred))
	if err != nil {
		return "", err
	}
	defer func() { _ = s.Close() }()
	raw, id := BuildMIME(msg, d.now())
	if err := s.Send(ctx, d.cred.Address, []string{msg.To}, raw); err != nil {
		return "", err
	}
	return id, nil
}
