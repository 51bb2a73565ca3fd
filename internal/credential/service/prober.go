package service

import (
	"context"
	"crypto/tls"

	"github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
)

// Prober performs the live authentication check against a provider.
type Prober interface {
	Probe(ctx context.Context, p domain.Provider, cred domain.Credential) error
}

// SMTPProber opens a submission session, authenticates and quits.
type SMTPProber struct {
	Timeouts  smtpconn.Timeouts
	TLSConfig *tls.Config
}

// Probe returns *smtpconn.AuthError when the server rejects the login and
// *smtpconn.OpError for transport failures. The session is always closed.
func (p SMTPProber) Probe(ctx context.Context, prov domain.Provider, cred domain.Credential) error {
	s, err := smtpconn.Open(ctx, Endpoint(prov), smtpconn.Options{
		Username:  cred.Address,
		Password:  cred.Secret,
		Timeouts:  p.Timeouts,
		TLSConfig: p.TLSConfig,
	})
	if err != nil {
		return err
	}
	return s.Close()
}

// Endpoint converts a directory entry to a dialable endpoint.
func Endpoint(p domain.Provider) smtpconn.Endpoint {
	return smtpconn.Endpoint{Host: p.Host, Port: p.Port, Security: smtpconn.Security(p.Security)}
}
