package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	domain "github.com/corvusHold/certmail/internal/credential/domain"
	svc "github.com/corvusHold/certmail/internal/credential/service"
	"github.com/corvusHold/certmail/internal/platform/secure"
)

// Validator is the subset of the credential service used over HTTP.
type Validator interface {
	Validate(ctx context.Context, req svc.Request) error
	Providers() []domain.Provider
}

type Controller struct {
	svc Validator
	log zerolog.Logger
}

func New(s Validator) *Controller {
	return &Controller{svc: s, log: zerolog.Nop()}
}

// SetLogger sets the controller logger.
func (h *Controller) SetLogger(l zerolog.Logger) { h.log = l }

// Register mounts credential routes under /api.
func (h *Controller) Register(e *echo.Echo) {
	g := e.Group("/api", secure.NoStore())
	g.POST("/validate-credentials", h.validate)
	g.Match([]string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodDelete},
		"/validate-credentials", secure.MethodNotAllowed(http.MethodPost))
	e.GET("/api/providers", h.providers)
}

type validateReq struct {
	Email       string `json:"email"`
	AppPassword string `json:"appPassword"`
}

type resultResp struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ResetTime string `json:"resetTime,omitempty"`
}

type providerResp struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Class   string `json:"class"`
}

// validate godoc
// @Summary      Validate mail credentials
// @Description  Checks transport, rate limit and format, then performs a live SMTP login.
// @Tags         credentials
// @Accept       json
// @Produce      json
// @Param        body  body  validateReq  true  "email and app password"
// @Success      200  {object}  resultResp
// @Failure      400  {object}  resultResp
// @Failure      401  {object}  resultResp
// @Failure      403  {object}  resultResp
// @Failure      429  {object}  resultResp
// @Router       /api/validate-credentials [post]
func (h *Controller) validate(c echo.Context) error {
	var req validateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, resultResp{Error: "invalid json"})
	}
	err := h.svc.Validate(c.Request().Context(), svc.Request{
		Address:   req.Email,
		Secret:    req.AppPassword,
		ClientIP:  c.RealIP(),
		Encrypted: secure.IsEncrypted(c.Request()),
	})
	if err == nil {
		return c.JSON(http.StatusOK, resultResp{Success: true})
	}
	return h.writeError(c, err)
}

func (h *Controller) writeError(c echo.Context, err error) error {
	var (
		rl   domain.ErrRateLimited
		bad  domain.ErrInvalidFormat
		dom  domain.ErrUnsupportedDomain
		auth domain.ErrAuthenticationFailed
	)
	switch {
	case errors.Is(err, domain.ErrInsecureTransport):
		return c.JSON(http.StatusForbidden, resultResp{Error: err.Error()})
	case errors.As(err, &rl):
		secs := int(time.Until(rl.ResetAt).Seconds() + 0.999)
		if secs < 0 {
			secs = 0
		}
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		return c.JSON(http.StatusTooManyRequests, resultResp{
			Error:     "Too many validation attempts. Please try again later.",
			ResetTime: rl.ResetAt.UTC().Format(time.RFC3339),
		})
	case errors.As(err, &bad):
		return c.JSON(http.StatusBadRequest, resultResp{Error: bad.Reason})
	case errors.As(err, &dom):
		return c.JSON(http.StatusBadRequest, resultResp{Error: dom.Error()})
	case errors.As(err, &auth):
		return c.JSON(http.StatusUnauthorized, resultResp{Error: auth.Hint})
	default:
		h.log.Error().Err(err).Msg("credential validation failed")
		return c.JSON(http.StatusInternalServerError, resultResp{Error: "Internal server error"})
	}
}

// providers godoc
// @Summary      List supported mail providers
// @Tags         credentials
// @Produce      json
// @Success      200  {array}  providerResp
// @Router       /api/providers [get]
func (h *Controller) providers(c echo.Context) error {
	list := h.svc.Providers()
	out := make([]providerResp, 0, len(list))
	for _, p := range list {
		out = append(out, providerResp{Name: p.Name, Pattern: p.Pattern, Class: string(p.Class)})
	}
	return c.JSON(http.StatusOK, out)
}
