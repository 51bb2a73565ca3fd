package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	metrics "github.com/corvusHold/certmail/internal/metrics"
)

// Policy defines a simple fixed-window rate limit.
// Limit requests within Window per derived key.
type Policy struct {
	// Name is a short identifier for the limited endpoint, used for logging/metrics (e.g. "credentials:validate").
	Name   string
	Window time.Duration
	Limit  int
	// Key builds the bucket key for this request.
	// Example: func(c echo.Context) string { return "validate:ip:" + c.RealIP() }
	Key func(echo.Context) string
	// Message is the error text of the 429 body. Defaults to DefaultMessage.
	Message string
}

// DefaultMessage is the 429 error text for policies without their own.
const DefaultMessage = "Too many requests. Please try again later."

// Decision is the outcome of one counted attempt.
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// RetryAfter is the whole number of seconds until the window resets.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int((d.ResetAt.Sub(now) + time.Second - 1) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// Store abstracts a fixed-window counter. Every call counts as an attempt.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// MemoryStore is a process-local fixed-window Store.
// Note: state is lost on restart and not shared between instances. For
// multi-instance deployments use the Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	start time.Time
	count int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket), now: time.Now}
}

// NewMemoryStoreWithClock is NewMemoryStore with an injectable clock.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket), now: now}
}

func (m *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok || now.Sub(b.start) >= window {
		b = &bucket{start: now}
		m.buckets[key] = b
		m.sweep(now, window)
	}
	b.count++
	return Decision{Allowed: b.count <= limit, Count: b.count, ResetAt: b.start.Add(window)}, nil
}

// sweep drops elapsed buckets so idle clients do not accumulate.
func (m *MemoryStore) sweep(now time.Time, window time.Duration) {
	if len(m.buckets) < 1024 {
		return
	}
	for k, b := range m.buckets {
		if now.Sub(b.start) >= window {
			delete(m.buckets, k)
		}
	}
}

// Middleware enforces p using s. Store errors fail open.
func Middleware(p Policy, s Store) echo.MiddlewareFunc {
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.Limit <= 0 {
		p.Limit = 60
	}
	if p.Message == "" {
		p.Message = DefaultMessage
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "global"
			if p.Key != nil {
				key = p.Key(c)
			}
			d, err := s.Allow(c.Request().Context(), key, p.Limit, p.Window)
			if err != nil {
				c.Logger().Warnf("rate limit store error: endpoint=%s err=%v", p.Name, err)
				return next(c)
			}
			if d.Allowed {
				return next(c)
			}
			now := time.Now()
			retryAfter := d.RetryAfter(now)
			metrics.IncRateLimitExceeded(p.Name)
			c.Logger().Warnf("rate limit exceeded: endpoint=%s limit=%d window=%s retry_after=%ds", p.Name, p.Limit, p.Window.String(), retryAfter)
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"success":   false,
				"error":     p.Message,
				"resetTime": d.ResetAt.UTC().Format(time.RFC3339),
			})
		}
	}
}

// KeyIP buckets by the request's real IP. Prefix allows per-endpoint separation.
func KeyIP(prefix string) func(echo.Context) string {
	return func(c echo.Context) string {
		return prefix + ":ip:" + c.RealIP()
	}
}
