package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv             string
	AppAddr            string
	CORSAllowedOrigins []string
	ForceHTTPS         bool
	// TrustedProxies lists proxy CIDRs whose X-Forwarded-For is honoured.
	// Empty means the TCP peer address is the client address.
	TrustedProxies []string

	// DatabaseURL enables the send log when non-empty.
	DatabaseURL string

	RedisAddr      string
	RedisDB        int
	RateLimitStore string // memory | redis

	EmailProvider   string // default backend: hosted | direct
	EmailFailover   bool
	BrevoAPIKey     string
	BrevoSender     string
	BrevoSenderName string
	BrevoEndpoint   string
	LogoPath        string

	SendDelay          time.Duration
	PoolMaxConnections int
	PoolMaxMessages    int
	PoolRatePerSecond  float64
	PooledThreshold    int

	ValidateWindow time.Duration
	ValidateLimit  int

	SMTPDialTimeout     time.Duration
	SMTPGreetingTimeout time.Duration
	SMTPSocketTimeout   time.Duration

	MaxBodyBytes string
}

func Load() (Config, error) {
	c := Config{}

	c.AppEnv = getEnv("APP_ENV", "development")
	c.AppAddr = getEnv("APP_ADDR", ":8080")
	c.CORSAllowedOrigins = splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))
	c.ForceHTTPS = getBool("FORCE_HTTPS", false)
	c.TrustedProxies = splitList(getEnv("TRUSTED_PROXIES", ""))

	c.DatabaseURL = getEnv("DATABASE_URL", "")

	c.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	c.RedisDB = getInt("REDIS_DB", 0)
	c.RateLimitStore = strings.ToLower(getEnv("RATE_LIMIT_STORE", "memory"))

	c.EmailProvider = strings.ToLower(getEnv("EMAIL_PROVIDER", "hosted"))
	c.EmailFailover = getBool("EMAIL_FAILOVER", false)
	c.BrevoAPIKey = getEnv("BREVO_API_KEY", "")
	c.BrevoSender = getEnv("BREVO_SENDER", "no-reply@local.dev")
	c.BrevoSenderName = getEnv("BREVO_SENDER_NAME", "Certificate Team")
	c.BrevoEndpoint = getEnv("BREVO_ENDPOINT", "https://api.brevo.com/v3/smtp/email")
	c.LogoPath = getEnv("LOGO_PATH", "./public/logo.png")

	c.SendDelay = getDuration("SEND_DELAY", 500*time.Millisecond)
	c.PoolMaxConnections = getInt("POOL_MAX_CONNECTIONS", 5)
	c.PoolMaxMessages = getInt("POOL_MAX_MESSAGES", 100)
	c.PoolRatePerSecond = getFloat("POOL_RATE_PER_SECOND", 5)
	c.PooledThreshold = getInt("POOLED_THRESHOLD", 50)

	c.ValidateWindow = getDuration("VALIDATE_WINDOW", 15*time.Minute)
	c.ValidateLimit = getInt("VALIDATE_LIMIT", 5)

	c.SMTPDialTimeout = getDuration("SMTP_DIAL_TIMEOUT", 10*time.Second)
	c.SMTPGreetingTimeout = getDuration("SMTP_GREETING_TIMEOUT", 5*time.Second)
	c.SMTPSocketTimeout = getDuration("SMTP_SOCKET_TIMEOUT", 10*time.Second)

	c.MaxBodyBytes = getEnv("MAX_BODY_BYTES", "50M")

	if c.EmailProvider != "hosted" && c.EmailProvider != "direct" {
		return c, fmt.Errorf("invalid EMAIL_PROVIDER %q (want hosted or direct)", c.EmailProvider)
	}
	if c.RateLimitStore != "memory" && c.RateLimitStore != "redis" {
		c.RateLimitStore = "memory"
	}
	return c, nil
}

// IsProduction reports whether the process runs with production guarantees
// (TLS-only credential endpoints).
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production") || strings.EqualFold(c.AppEnv, "prod")
}

// RequireTLS reports whether credentials must arrive over TLS.
func (c Config) RequireTLS() bool {
	return c.IsProduction() || c.ForceHTTPS
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitCSV(s string) []string {
	res := splitList(s)
	if len(res) == 0 {
		return []string{"*"}
	}
	return res
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}

func (c Config) String() string {
	db := "disabled"
	if c.DatabaseURL != "" {
		db = "enabled"
	}
	return fmt.Sprintf("env=%s addr=%s provider=%s sendlog=%s ratelimit=%s redis=%s/%d",
		c.AppEnv, c.AppAddr, c.EmailProvider, db, c.RateLimitStore, c.RedisAddr, c.RedisDB)
}
