package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/mailer/domain"
)

// Dispatcher sends one message and reports the backend that handled it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.Message) (id string, backend domain.Kind, err error)
}

// Route sends through Primary and, when set, retries a failed message once
// through Fallback with the envelope sender rewritten to FallbackFrom.
type Route struct {
	Primary      domain.Sender
	Kind         domain.Kind
	Fallback     domain.Sender
	FallbackKind domain.Kind
	FallbackFrom string
	Log          zerolog.Logger
}

func (r Route) Dispatch(ctx context.Context, msg domain.Message) (string, domain.Kind, error) {
	id, err := r.Primary.Send(ctx, msg)
	if err == nil || r.Fallback == nil || ctx.Err() != nil {
		return id, r.Kind, err
	}
	r.Log.Warn().Err(err).Str("backend", string(r.Kind)).Msg("primary send failed, trying fallback")
	msg.From = r.FallbackFrom
	id, ferr := r.Fallback.Send(ctx, msg)
	if ferr != nil {
		return "", r.FallbackKind, fmt.Errorf("%v; fallback: %w", err, ferr)
	}
	return id, r.FallbackKind, nil
}

// Router picks a backend by kind.
type Router struct {
	hosted   domain.Sender
	dir      *cdomain.Directory
	smtp     SMTPOptions
	failover bool
	log      zerolog.Logger
}

func NewRouter(hosted domain.Sender, dir *cdomain.Directory, smtp SMTPOptions, failover bool) *Router {
	return &Router{hosted: hosted, dir: dir, smtp: smtp, failover: failover, log: zerolog.Nop()}
}

// SetLogger sets the router logger.
func (r *Router) SetLogger(l zerolog.Logger) { r.log = l }

// Route returns the dispatcher for kind. cred is required for Direct and
// enables failover for Hosted.
func (r *Router) Route(kind domain.Kind, cred *cdomain.Credential) (Dispatcher, error) {
	switch kind {
	case domain.Hosted:
		rt := Route{Primary: r.hosted, Kind: domain.Hosted, Log: r.log}
		if r.failover && cred != nil {
			d, err := NewDirect(*cred, r.dir, r.smtp)
			if err == nil {
				rt.Fallback, rt.FallbackKind, rt.FallbackFrom = d, domain.Direct, cred.Address
			}
		}
		return rt, nil
	case domain.Direct:
		if cred == nil {
			return nil, cdomain.ErrCredentialRequired
		}
		d, err := NewDirect(*cred, r.dir, r.smtp)
		if err != nil {
			return nil, err
		}
		return Route{Primary: d, Kind: domain.Direct, Log: r.log}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
