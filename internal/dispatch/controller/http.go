package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	domain "github.com/corvusHold/certmail/internal/dispatch/domain"
	mdomain "github.com/corvusHold/certmail/internal/mailer/domain"
	msvc "github.com/corvusHold/certmail/internal/mailer/service"
	"github.com/corvusHold/certmail/internal/platform/ratelimit"
	"github.com/corvusHold/certmail/internal/platform/secure"
	"github.com/corvusHold/certmail/internal/platform/validation"
	"github.com/corvusHold/certmail/internal/sendlog"
)

// Dispatcher runs batches.
type Dispatcher interface {
	DispatchBatch(ctx context.Context, b domain.Batch) (domain.Report, error)
}

type Controller struct {
	svc        Dispatcher
	dir        *cdomain.Directory
	rl         ratelimit.Store
	bodyLimit  string
	requireTLS bool
	backend    mdomain.Kind
	history    sendlog.Reader
	log        zerolog.Logger
}

func New(svc Dispatcher, dir *cdomain.Directory) *Controller {
	return &Controller{svc: svc, dir: dir, bodyLimit: "50M", backend: mdomain.Hosted, log: zerolog.Nop()}
}

// WithRateLimit enables store-backed rate limiting of batch submissions.
func (h *Controller) WithRateLimit(store ratelimit.Store) *Controller {
	h.rl = store
	return h
}

// WithBodyLimit overrides the request body cap (echo size syntax, e.g. "50M").
func (h *Controller) WithBodyLimit(limit string) *Controller {
	if limit != "" {
		h.bodyLimit = limit
	}
	return h
}

// WithDefaultBackend sets the backend used when a request names none.
func (h *Controller) WithDefaultBackend(k mdomain.Kind) *Controller {
	if k != "" {
		h.backend = k
	}
	return h
}

// WithHistory exposes batch history from the send log.
func (h *Controller) WithHistory(r sendlog.Reader) *Controller {
	h.history = r
	return h
}

// RequireTLS rejects credentials submitted over plain HTTP.
func (h *Controller) RequireTLS(v bool) *Controller {
	h.requireTLS = v
	return h
}

// SetLogger sets the controller logger.
func (h *Controller) SetLogger(l zerolog.Logger) { h.log = l }

// Register mounts dispatch routes under /api.
func (h *Controller) Register(e *echo.Echo) {
	mws := []echo.MiddlewareFunc{secure.NoStore(), middleware.BodyLimit(h.bodyLimit)}
	if h.rl != nil {
		mws = append(mws, ratelimit.Middleware(ratelimit.Policy{
			Name:    "dispatch:send",
			Window:  time.Minute,
			Limit:   10,
			Key:     ratelimit.KeyIP("send"),
			Message: "Too many batch submissions. Please try again later.",
		}, h.rl))
	}
	e.POST("/api/send-certificates", h.send, mws...)
	e.Match([]string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodDelete},
		"/api/send-certificates", secure.MethodNotAllowed(http.MethodPost))
	if h.history != nil {
		e.GET("/api/batches/:id", h.batch)
		e.GET("/api/stats", h.stats)
	}
}

type recipientReq struct {
	Email             string `json:"email" validate:"required,email"`
	Name              string `json:"name" validate:"required"`
	CertificateBase64 string `json:"certificateBase64" validate:"required"`
	FileName          string `json:"fileName"`
}

type credentialsReq struct {
	Email       string `json:"email" validate:"required,email"`
	AppPassword string `json:"appPassword" validate:"required,appsecret"`
}

type sendReq struct {
	Recipients  []recipientReq  `json:"recipients" validate:"required,min=1,dive"`
	Provider    string          `json:"provider" validate:"omitempty,oneof=hosted direct"`
	SendingMode string          `json:"sendingMode" validate:"omitempty,oneof=sequential pooled"`
	Credentials *credentialsReq `json:"credentials"`
}

type sendResp struct {
	Success            bool              `json:"success"`
	SentCount          int               `json:"sentCount"`
	Errors             []mdomain.Failure `json:"errors"`
	Provider           string            `json:"provider,omitempty"`
	Mode               string            `json:"mode,omitempty"`
	BatchID            string            `json:"batchId,omitempty"`
	Error              string            `json:"error,omitempty"`
	CredentialRequired bool              `json:"credentialRequired,omitempty"`
}

// send godoc
// @Summary      Send certificates
// @Description  Emails each recipient its certificate through the hosted API or direct SMTP.
// @Tags         dispatch
// @Accept       json
// @Produce      json
// @Param        body  body  sendReq  true  "batch"
// @Success      200  {object}  sendResp
// @Failure      400  {object}  sendResp
// @Failure      401  {object}  sendResp
// @Router       /api/send-certificates [post]
func (h *Controller) send(c echo.Context) error {
	var req sendReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, sendResp{Errors: []mdomain.Failure{}, Error: "invalid json"})
	}
	if err := c.Validate(&req); err != nil {
		body := validation.ErrorResponse(err)
		return c.JSON(http.StatusBadRequest, sendResp{Errors: []mdomain.Failure{}, Error: body.Error})
	}

	batch := domain.Batch{Backend: mdomain.Kind(req.Provider), Strategy: mdomain.Strategy(req.SendingMode)}
	if batch.Backend == "" {
		batch.Backend = h.backend
	}
	if req.Credentials != nil {
		if h.requireTLS && !secure.IsEncrypted(c.Request()) {
			return c.JSON(http.StatusForbidden, sendResp{Errors: []mdomain.Failure{}, Error: cdomain.ErrInsecureTransport.Error()})
		}
		cred, err := cdomain.Parse(req.Credentials.Email, req.Credentials.AppPassword, h.dir, time.Now())
		if err != nil {
			return c.JSON(http.StatusBadRequest, sendResp{Errors: []mdomain.Failure{}, Error: err.Error()})
		}
		batch.Credential = &cred
	}
	for _, r := range req.Recipients {
		data, err := msvc.DecodeDataURI(r.CertificateBase64)
		if err != nil || len(data) == 0 {
			return c.JSON(http.StatusBadRequest, sendResp{Errors: []mdomain.Failure{}, Error: "invalid certificate for recipient " + r.Email})
		}
		name := r.FileName
		if name == "" {
			name = "certificate.png"
		}
		batch.Recipients = append(batch.Recipients, mdomain.Recipient{Email: r.Email, Name: r.Name, FileName: name, Certificate: data})
	}

	// A started batch runs to completion even if the client goes away.
	rep, err := h.svc.DispatchBatch(context.WithoutCancel(c.Request().Context()), batch)
	if errors.Is(err, cdomain.ErrCredentialRequired) {
		return c.JSON(http.StatusUnauthorized, sendResp{Errors: []mdomain.Failure{}, Error: err.Error(), CredentialRequired: true})
	}
	if err != nil {
		h.log.Error().Err(err).Str("provider", string(batch.Backend)).Msg("dispatch failed")
		return c.JSON(http.StatusInternalServerError, sendResp{Errors: []mdomain.Failure{}, Error: "Internal server error"})
	}
	return c.JSON(http.StatusOK, sendResp{
		Success:   rep.Success(),
		SentCount: rep.Sent,
		Errors:    rep.Failures,
		Provider:  string(rep.Backend),
		Mode:      string(rep.Strategy),
		BatchID:   rep.BatchID.String(),
	})
}

type entryResp struct {
	Email     string    `json:"email"`
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Backend   string    `json:"provider"`
	Strategy  string    `json:"mode"`
	CreatedAt time.Time `json:"createdAt"`
}

type batchResp struct {
	BatchID string      `json:"batchId"`
	Entries []entryResp `json:"entries"`
}

type statsResp struct {
	Since  string `json:"since"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

// batch godoc
// @Summary      Batch history
// @Tags         dispatch
// @Produce      json
// @Param        id   path  string  true  "batch id"
// @Success      200  {object}  batchResp
// @Failure      404  {object}  map[string]string
// @Router       /api/batches/{id} [get]
func (h *Controller) batch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid batch id"})
	}
	entries, err := h.history.ListBatch(c.Request().Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("batch_id", id.String()).Msg("batch lookup failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if len(entries) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "batch not found"})
	}
	out := batchResp{BatchID: id.String(), Entries: make([]entryResp, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, entryResp{
			Email: e.Email, Success: e.Success, MessageID: e.MessageID, Error: e.Error,
			Backend: e.Backend, Strategy: e.Strategy, CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// stats godoc
// @Summary      Send outcome counts
// @Tags         dispatch
// @Produce      json
// @Param        window  query  string  false  "look-back duration, default 24h"
// @Success      200  {object}  statsResp
// @Router       /api/stats [get]
func (h *Controller) stats(c echo.Context) error {
	window := 24 * time.Hour
	if v := c.QueryParam("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid window"})
		}
		window = d
	}
	since := time.Now().Add(-window).UTC()
	st, err := h.history.StatsSince(c.Request().Context(), since)
	if err != nil {
		h.log.Error().Err(err).Msg("stats query failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, statsResp{Since: since.Format(time.RFC3339), Sent: st.Sent, Failed: st.Failed})
}
