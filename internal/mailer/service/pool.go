package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/mailer/domain"
	"github.com/corvusHold/certmail/internal/metrics"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
)

// Ensure Pool implements domain.Sender
var _ domain.Sender = (*Pool)(nil)

// PoolConfig bounds a Pool.
type PoolConfig struct {
	MaxConnections int
	// MaxMessages rotates a connection after this many accepted messages.
	MaxMessages int
	// RatePerSecond caps throughput across the whole pool.
	RatePerSecond float64
	SMTP          SMTPOptions
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 5
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 100
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	return c
}

// Pool reuses authenticated SMTP sessions for one credential.
type Pool struct {
	cred    cdomain.Credential
	ep      smtpconn.Endpoint
	cfg     PoolConfig
	limiter *rate.Limiter
	slots   chan struct{}
	now     func() time.Time
	log     zerolog.Logger

	mu     sync.Mutex
	idle   []*smtpconn.Session
	closed bool
}

// NewPool creates an empty pool. Connections are opened on demand.
func NewPool(cred cdomain.Credential, dir *cdomain.Directory, cfg PoolConfig) (*Pool, error) {
	p, err := dir.Lookup(cred.Address)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Pool{
		cred:    cred,
		ep:      endpointFor(p),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		slots:   make(chan struct{}, cfg.MaxConnections),
		now:     time.Now,
		log:     zerolog.Nop(),
	}, nil
}

// SetLogger sets the pool logger.
func (p *Pool) SetLogger(l zerolog.Logger) { p.log = l }

// Capacity is the maximum number of concurrent connections.
func (p *Pool) Capacity() int { return p.cfg.MaxConnections }

func (p *Pool) Send(ctx context.Context, msg domain.Message) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}
	s, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	raw, id := BuildMIME(msg, p.now())
	err = s.Send(ctx, p.cred.Address, []string{msg.To}, raw)
	p.release(s, err)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Pool) acquire(ctx context.Context) (*smtpconn.Session, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, domain.ErrPoolClosed
	}
	var s *smtpconn.Session
	if n := len(p.idle); n > 0 {
		s = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()
	if s != nil {
		if err := s.Noop(); err == nil {
			return s, nil
		}
		// Server dropped the idle session; replace it.
		_ = s.Close()
		metrics.AddPoolOpen(-1)
	}

	s, err := smtpconn.Open(ctx, p.ep, p.cfg.SMTP.session(p.cred))
	if err != nil {
		<-p.slots
		return nil, err
	}
	metrics.AddPoolOpen(1)
	return s, nil
}

// release returns s to the idle list unless it is spent, broken or the pool
// has closed.
func (p *Pool) release(s *smtpconn.Session, sendErr error) {
	defer func() { <-p.slots }()
	spent := s.Sent() >= p.cfg.MaxMessages
	p.mu.Lock()
	keep := !p.closed && !spent && reusable(sendErr)
	if keep {
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()
	if keep {
		return
	}
	if spent {
		metrics.IncPoolRotation()
		p.log.Debug().Int("sent", s.Sent()).Msg("rotating smtp connection")
	}
	_ = s.Close()
	metrics.AddPoolOpen(-1)
}

// reusable reports whether the session survived err. Envelope rejections
// leave the session usable; anything else drops it.
func reusable(err error) bool {
	if err == nil {
		return true
	}
	var op *smtpconn.OpError
	if errors.As(err, &op) {
		return op.Op == "rcpt to" || op.Op == "mail from"
	}
	return false
}

// Close quits idle sessions and closes busy ones as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, s := range idle {
		_ = s.Close()
		metrics.AddPoolOpen(-1)
	}
	return nil
}

// PoolHandle owns the process-wide pool. The pool is created lazily on the
// first Get, shared by concurrent batches for the same credential, and
// closed when the last lease is released or the handle is closed. A batch
// for a different credential waits until the current pool drains.
type PoolHandle struct {
	dir *cdomain.Directory
	cfg PoolConfig
	log zerolog.Logger

	mu      sync.Mutex
	pool    *Pool
	key     string
	refs    int
	drained chan struct{}
	closed  bool
}

func NewPoolHandle(dir *cdomain.Directory, cfg PoolConfig) *PoolHandle {
	return &PoolHandle{dir: dir, cfg: cfg.withDefaults(), log: zerolog.Nop()}
}

// SetLogger sets the handle logger, also used by the pools it creates.
func (h *PoolHandle) SetLogger(l zerolog.Logger) { h.log = l }

// Get leases the pool for cred. The returned release func must be called
// once the caller has recorded its last result.
func (h *PoolHandle) Get(ctx context.Context, cred cdomain.Credential) (*Pool, func(), error) {
	key := cred.Address + "\x00" + cred.Secret
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, nil, domain.ErrPoolClosed
		}
		if h.pool == nil {
			p, err := NewPool(cred, h.dir, h.cfg)
			if err != nil {
				h.mu.Unlock()
				return nil, nil, err
			}
			p.SetLogger(h.log)
			h.pool, h.key, h.refs, h.drained = p, key, 0, make(chan struct{})
			h.log.Info().Str("fp", cdomain.Fingerprint(cred.Address)).Int("max_connections", h.cfg.MaxConnections).Msg("smtp pool created")
		}
		if h.key == key {
			h.refs++
			p := h.pool
			h.mu.Unlock()
			var once sync.Once
			return p, func() { once.Do(func() { h.release(p) }) }, nil
		}
		wait := h.drained
		h.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (h *PoolHandle) release(p *Pool) {
	h.mu.Lock()
	if h.pool != p {
		h.mu.Unlock()
		return
	}
	h.refs--
	if h.refs > 0 {
		h.mu.Unlock()
		return
	}
	drained := h.drained
	h.pool, h.key, h.drained = nil, "", nil
	h.mu.Unlock()
	_ = p.Close()
	close(drained)
	h.log.Info().Msg("smtp pool closed")
}

// Active reports whether a pool is currently open.
func (h *PoolHandle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pool != nil
}

// Close shuts the handle down for good. It matches lifecycle.CloseFunc.
func (h *PoolHandle) Close(_ context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	p, drained := h.pool, h.drained
	h.pool, h.key, h.drained = nil, "", nil
	h.mu.Unlock()
	if p == nil {
		return nil
	}
	close(drained)
	return p.Close()
}
