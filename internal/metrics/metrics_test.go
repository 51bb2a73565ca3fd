package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncMessage_LabelsResult(t *testing.T) {
	before := testutil.ToFloat64(messagesTotal.WithLabelValues("direct", "pooled", "failure"))
	IncMessage("direct", "pooled", false)
	after := testutil.ToFloat64(messagesTotal.WithLabelValues("direct", "pooled", "failure"))
	assert.Equal(t, before+1, after)
}

func TestIncValidationOutcome_DefaultsEmptyLabels(t *testing.T) {
	before := testutil.ToFloat64(validationOutcomes.WithLabelValues("unknown", "unknown"))
	IncValidationOutcome("", "")
	assert.Equal(t, before+1, testutil.ToFloat64(validationOutcomes.WithLabelValues("unknown", "unknown")))
}

func TestHTTPMiddleware_CountsRoutesAndServesScrape(t *testing.T) {
	e := echo.New()
	e.Use(HTTPMiddleware())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/metrics", echo.WrapHandler(Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/ping", "200")))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "certmail_http_requests_total"))
}
