package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "")
	t.Setenv("SEND_DELAY", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("FORCE_HTTPS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hosted", cfg.EmailProvider)
	assert.Equal(t, 500*time.Millisecond, cfg.SendDelay)
	assert.Equal(t, 5, cfg.PoolMaxConnections)
	assert.Equal(t, 100, cfg.PoolMaxMessages)
	assert.Equal(t, 50, cfg.PooledThreshold)
	assert.Equal(t, 15*time.Minute, cfg.ValidateWindow)
	assert.Equal(t, 5, cfg.ValidateLimit)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.RequireTLS())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "DIRECT")
	t.Setenv("POOL_RATE_PER_SECOND", "2.5")
	t.Setenv("RATE_LIMIT_STORE", "bogus")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "direct", cfg.EmailProvider)
	assert.InDelta(t, 2.5, cfg.PoolRatePerSecond, 0.0001)
	assert.Equal(t, "memory", cfg.RateLimitStore)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.RequireTLS())
}

func TestRequireTLS_ForcedOutsideProduction(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("FORCE_HTTPS", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.RequireTLS())
}

func TestLoad_InvalidProvider(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "pigeon")
	_, err := Load()
	require.Error(t, err)
}

func TestSplitCSV_EmptyFallsBackToWildcard(t *testing.T) {
	assert.Equal(t, []string{"*"}, splitCSV(" , "))
	assert.Equal(t, []string{"a", "b"}, splitCSV("a, b,"))
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.TrustedProxies)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.TrustedProxies)
}
