package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvusHold/certmail/internal/credential/domain"
	evdomain "github.com/corvusHold/certmail/internal/events/domain"
	"github.com/corvusHold/certmail/internal/metrics"
	"github.com/corvusHold/certmail/internal/platform/ratelimit"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
)

// Request is one validation attempt as seen by the transport layer.
type Request struct {
	Address   string
	Secret    string
	ClientIP  string
	Encrypted bool
}

// Options tunes the validation service.
type Options struct {
	// RequireTLS rejects requests that did not arrive over TLS.
	RequireTLS bool
	Window     time.Duration
	Limit      int
}

// Service validates credentials: transport, rate, format, then a live login.
type Service struct {
	dir     *domain.Directory
	limiter ratelimit.Store
	prober  Prober
	pub     evdomain.Publisher
	opts    Options
	now     func() time.Time
	log     zerolog.Logger
}

func New(dir *domain.Directory, limiter ratelimit.Store, prober Prober, pub evdomain.Publisher, opts Options) *Service {
	if opts.Window <= 0 {
		opts.Window = 15 * time.Minute
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	return &Service{dir: dir, limiter: limiter, prober: prober, pub: pub, opts: opts, now: time.Now, log: zerolog.Nop()}
}

// SetLogger sets the service logger.
func (s *Service) SetLogger(l zerolog.Logger) { s.log = l }

// Providers lists the supported provider entries.
func (s *Service) Providers() []domain.Provider { return s.dir.List() }

// Validate runs the checks in order and returns nil when the provider
// accepted the login. Errors are the typed errors of the domain package.
func (s *Service) Validate(ctx context.Context, req Request) error {
	fp := domain.Fingerprint(req.Address)
	log := s.log.With().Str("fp", fp).Str("ip", req.ClientIP).Logger()

	if s.opts.RequireTLS && !req.Encrypted {
		s.outcome(ctx, "insecure", "", fp)
		log.Warn().Msg("credential submitted over plain http")
		return domain.ErrInsecureTransport
	}

	if s.limiter != nil {
		d, err := s.limiter.Allow(ctx, "validate:ip:"+req.ClientIP, s.opts.Limit, s.opts.Window)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("rate limit store unavailable, allowing")
		case !d.Allowed:
			metrics.IncRateLimitExceeded("credentials:validate")
			s.outcome(ctx, "rate_limited", "", fp)
			log.Warn().Int("count", d.Count).Time("reset_at", d.ResetAt).Msg("validation rate limited")
			return domain.ErrRateLimited{ResetAt: d.ResetAt}
		}
	}

	cred, err := domain.Parse(req.Address, req.Secret, s.dir, s.now())
	if err != nil {
		s.outcome(ctx, "invalid_format", "", fp)
		return err
	}
	prov, err := s.dir.Lookup(cred.Address)
	if err != nil {
		s.outcome(ctx, "invalid_format", "", fp)
		return err
	}

	start := time.Now()
	err = s.prober.Probe(ctx, prov, cred)
	metrics.ObserveValidationHandshake(time.Since(start).Seconds())
	if err == nil {
		s.outcome(ctx, "success", string(prov.Class), fp)
		log.Info().Str("provider", prov.Name).Msg("credential validated")
		return nil
	}

	// Any failure is reported as a rejected login; the underlying cause is
	// kept for logs and metrics only.
	result := "auth_failed"
	var op *smtpconn.OpError
	if !smtpconn.IsAuth(err) && errors.As(err, &op) && isTransport(op.Op) {
		result = "network"
		err = domain.ErrNetwork{Op: op.Op, Err: op.Err}
	}
	s.outcome(ctx, result, string(prov.Class), fp)
	log.Info().Err(err).Str("provider", prov.Name).Str("result", result).Msg("credential rejected")
	return domain.ErrAuthenticationFailed{Hint: prov.AuthHint(), Err: err}
}

// isTransport separates unreachable servers from servers that answered but
// refused the session.
func isTransport(op string) bool {
	switch op {
	case "dial", "tls handshake", "greeting":
		return true
	}
	return false
}

func (s *Service) outcome(ctx context.Context, result, class, fp string) {
	metrics.IncValidationOutcome(result, class)
	if s.pub == nil {
		return
	}
	typ := evdomain.TypeCredentialRejected
	if result == "success" {
		typ = evdomain.TypeCredentialValidated
	}
	_ = s.pub.Publish(ctx, evdomain.Event{
		Type: typ,
		Meta: map[string]string{"result": result, "class": class, "fp": fp},
		Time: s.now(),
	})
}
