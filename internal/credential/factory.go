package credential

import (
	"github.com/labstack/echo/v4"

	"github.com/corvusHold/certmail/internal/config"
	ctrl "github.com/corvusHold/certmail/internal/credential/controller"
	"github.com/corvusHold/certmail/internal/credential/domain"
	svc "github.com/corvusHold/certmail/internal/credential/service"
	evdomain "github.com/corvusHold/certmail/internal/events/domain"
	"github.com/corvusHold/certmail/internal/logger"
	rl "github.com/corvusHold/certmail/internal/platform/ratelimit"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
)

type Registrar struct {
	ctrl *ctrl.Controller
	svc  *svc.Service
}

// NewRegistrar wires the validation service from configuration.
func NewRegistrar(cfg config.Config, dir *domain.Directory, store rl.Store, pub evdomain.Publisher) *Registrar {
	prober := svc.SMTPProber{Timeouts: smtpconn.Timeouts{
		Dial:     cfg.SMTPDialTimeout,
		Greeting: cfg.SMTPGreetingTimeout,
		Socket:   cfg.SMTPSocketTimeout,
	}}
	s := svc.New(dir, store, prober, pub, svc.Options{
		RequireTLS: cfg.RequireTLS(),
		Window:     cfg.ValidateWindow,
		Limit:      cfg.ValidateLimit,
	})
	base := logger.New(cfg.AppEnv)
	s.SetLogger(logger.Component(base, "credentials"))

	c := ctrl.New(s)
	c.SetLogger(logger.Component(base, "credentials.http"))
	return &Registrar{ctrl: c, svc: s}
}

func (r *Registrar) Register(e *echo.Echo) { r.ctrl.Register(e) }
