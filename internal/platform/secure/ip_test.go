package secure

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forwarded(remote, xff, realIP string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set(echo.HeaderXForwardedFor, xff)
	}
	if realIP != "" {
		req.Header.Set(echo.HeaderXRealIP, realIP)
	}
	return req
}

func TestIPExtractor_NoProxiesIgnoresHeaders(t *testing.T) {
	ipx, err := IPExtractor(nil)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ipx(forwarded("203.0.113.9:5000", "198.51.100.1", "198.51.100.2")))
}

func TestIPExtractor_TrustedProxyForwardsClient(t *testing.T) {
	ipx, err := IPExtractor([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", ipx(forwarded("10.1.2.3:5000", "198.51.100.1", "")))
}

func TestIPExtractor_UntrustedPeerCannotSpoof(t *testing.T) {
	ipx, err := IPExtractor([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ipx(forwarded("203.0.113.9:5000", "198.51.100.1", "")))
	// private ranges are not trusted implicitly
	assert.Equal(t, "192.168.1.5", ipx(forwarded("192.168.1.5:5000", "198.51.100.1", "")))
}

func TestIPExtractor_BareAddress(t *testing.T) {
	ipx, err := IPExtractor([]string{"192.0.2.10"})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", ipx(forwarded("192.0.2.10:5000", "198.51.100.1", "")))
}

func TestIPExtractor_InvalidCIDR(t *testing.T) {
	_, err := IPExtractor([]string{"not-a-cidr"})
	require.Error(t, err)
}
