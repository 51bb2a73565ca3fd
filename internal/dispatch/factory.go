package dispatch

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/corvusHold/certmail/internal/config"
	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	ctrl "github.com/corvusHold/certmail/internal/dispatch/controller"
	svc "github.com/corvusHold/certmail/internal/dispatch/service"
	evdomain "github.com/corvusHold/certmail/internal/events/domain"
	"github.com/corvusHold/certmail/internal/logger"
	mdomain "github.com/corvusHold/certmail/internal/mailer/domain"
	msvc "github.com/corvusHold/certmail/internal/mailer/service"
	"github.com/corvusHold/certmail/internal/platform/lifecycle"
	rl "github.com/corvusHold/certmail/internal/platform/ratelimit"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
	"github.com/corvusHold/certmail/internal/sendlog"
)

type Registrar struct {
	ctrl  *ctrl.Controller
	svc   *svc.Service
	pools *msvc.PoolHandle
}

// NewRegistrar wires the mailer backends and the orchestrator. The pool
// handle is registered with reg so shutdown closes any open connections.
func NewRegistrar(cfg config.Config, dir *cdomain.Directory, store rl.Store, rec sendlog.Recorder, pub evdomain.Publisher, reg *lifecycle.Registry) (*Registrar, error) {
	base := logger.New(cfg.AppEnv)
	smtp := msvc.SMTPOptions{Timeouts: smtpconn.Timeouts{
		Dial:     cfg.SMTPDialTimeout,
		Greeting: cfg.SMTPGreetingTimeout,
		Socket:   cfg.SMTPSocketTimeout,
	}}

	composer, err := msvc.NewComposer(cfg.LogoPath, cfg.BrevoSenderName)
	if err != nil {
		return nil, fmt.Errorf("composer: %w", err)
	}
	router := msvc.NewRouter(msvc.NewHosted(cfg.BrevoAPIKey, cfg.BrevoEndpoint), dir, smtp, cfg.EmailFailover)
	router.SetLogger(logger.Component(base, "mailer"))

	pools := msvc.NewPoolHandle(dir, msvc.PoolConfig{
		MaxConnections: cfg.PoolMaxConnections,
		MaxMessages:    cfg.PoolMaxMessages,
		RatePerSecond:  cfg.PoolRatePerSecond,
		SMTP:           smtp,
	})
	pools.SetLogger(logger.Component(base, "smtp-pool"))
	reg.Register("smtp-pool", pools.Close)

	s := svc.New(router, pools, composer, rec, pub, svc.Options{
		PooledThreshold: cfg.PooledThreshold,
		SendDelay:       cfg.SendDelay,
		HostedFrom:      cfg.BrevoSender,
		HostedFromName:  cfg.BrevoSenderName,
	})
	s.SetLogger(logger.Component(base, "dispatch"))

	c := ctrl.New(s, dir).WithRateLimit(store).WithBodyLimit(cfg.MaxBodyBytes).
		WithDefaultBackend(mdomain.Kind(cfg.EmailProvider)).RequireTLS(cfg.RequireTLS())
	if hist, ok := rec.(sendlog.Reader); ok {
		c.WithHistory(hist)
	}
	c.SetLogger(logger.Component(base, "dispatch.http"))
	return &Registrar{ctrl: c, svc: s, pools: pools}, nil
}

func (r *Registrar) Register(e *echo.Echo) { r.ctrl.Register(e) }
