// Package smtpconn opens authenticated SMTP submission sessions with bounded
// dial, greeting and socket timeouts.
package smtpconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// Security selects how the session is protected.
type Security string

const (
	StartTLS Security = "starttls"
	Implicit Security = "tls"
	None     Security = "none"
)

// Endpoint is a submission server address.
type Endpoint struct {
	Host     string
	Port     int
	Security Security
}

func (e Endpoint) Addr() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

// Timeouts bound each protocol phase. Zero values fall back to defaults.
type Timeouts struct {
	Dial     time.Duration
	Greeting time.Duration
	Socket   time.Duration
}

// DefaultTimeouts are the dial, greeting and socket limits of a credential check.
var DefaultTimeouts = Timeouts{Dial: 10 * time.Second, Greeting: 5 * time.Second, Socket: 10 * time.Second}

func (t Timeouts) withDefaults() Timeouts {
	if t.Dial <= 0 {
		t.Dial = DefaultTimeouts.Dial
	}
	if t.Greeting <= 0 {
		t.Greeting = DefaultTimeouts.Greeting
	}
	if t.Socket <= 0 {
		t.Socket = DefaultTimeouts.Socket
	}
	return t
}

// AuthError marks a rejected AUTH exchange, as opposed to a transport failure.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return "smtp auth rejected: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// OpError marks a transport or protocol failure in a named phase.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("smtp %s: %v", e.Op, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }

// IsAuth reports whether err came from a rejected AUTH exchange.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Options configures Open.
type Options struct {
	Username string
	Password string
	Timeouts Timeouts
	// TLSConfig overrides the default client TLS config (ServerName = host).
	TLSConfig *tls.Config
	// LocalName is sent in EHLO. Defaults to "localhost".
	LocalName string
}

// Session is one authenticated SMTP connection. It is not safe for
// concurrent use.
type Session struct {
	client *smtp.Client
	conn   net.Conn
	socket time.Duration
	sent   int
	closed bool
}

// Open dials ep, reads the greeting, negotiates TLS and authenticates. The
// connection is closed on every error path.
func Open(ctx context.Context, ep Endpoint, opts Options) (*Session, error) {
	t := opts.Timeouts.withDefaults()
	tlsCfg := opts.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: ep.Host, MinVersion: tls.VersionTLS12}
	}

	dialer := &net.Dialer{Timeout: t.Dial}
	conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, &OpError{Op: "dial", Err: err}
	}
	if ep.Security == Implicit {
		tc := tls.Client(conn, tlsCfg)
		_ = tc.SetDeadline(time.Now().Add(t.Dial))
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, &OpError{Op: "tls handshake", Err: err}
		}
		conn = tc
	}

	// smtp.NewClient reads the 220 greeting.
	_ = conn.SetDeadline(time.Now().Add(t.Greeting))
	c, err := smtp.NewClient(conn, ep.Host)
	if err != nil {
		_ = conn.Close()
		return nil, &OpError{Op: "greeting", Err: err}
	}
	_ = conn.SetDeadline(time.Now().Add(t.Socket))

	fail := func(op string, err error) (*Session, error) {
		_ = c.Close()
		return nil, &OpError{Op: op, Err: err}
	}

	local := opts.LocalName
	if local == "" {
		local = "localhost"
	}
	if err := c.Hello(local); err != nil {
		return fail("ehlo", err)
	}
	if ep.Security == StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fail("starttls", errors.New("server does not advertise STARTTLS"))
		}
		if err := c.StartTLS(tlsCfg); err != nil {
			return fail("starttls", err)
		}
	}
	if opts.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", opts.Username, opts.Password, ep.Host)); err != nil {
			_ = c.Close()
			return nil, &AuthError{Err: err}
		}
	}
	return &Session{client: c, conn: conn, socket: t.Socket}, nil
}

// Send runs one MAIL/RCPT/DATA transaction. A failed transaction is reset so
// the session stays usable.
func (s *Session) Send(ctx context.Context, from string, to []string, msg []byte) error {
	if s.closed {
		return &OpError{Op: "send", Err: errors.New("session closed")}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(s.socket)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetDeadline(deadline)

	if err := s.client.Mail(from); err != nil {
		s.reset()
		return &OpError{Op: "mail from", Err: err}
	}
	for _, rcpt := range to {
		if err := s.client.Rcpt(rcpt); err != nil {
			s.reset()
			return &OpError{Op: "rcpt to", Err: err}
		}
	}
	w, err := s.client.Data()
	if err != nil {
		s.reset()
		return &OpError{Op: "data", Err: err}
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		s.reset()
		return &OpError{Op: "data write", Err: err}
	}
	if err := w.Close(); err != nil {
		s.reset()
		return &OpError{Op: "data close", Err: err}
	}
	s.sent++
	return nil
}

func (s *Session) reset() {
	_ = s.conn.SetDeadline(time.Now().Add(s.socket))
	_ = s.client.Reset()
}

// Noop checks the connection is still alive.
func (s *Session) Noop() error {
	if s.closed {
		return errors.New("session closed")
	}
	_ = s.conn.SetDeadline(time.Now().Add(s.socket))
	return s.client.Noop()
}

// Sent is the number of messages accepted on this session.
func (s *Session) Sent() int { return s.sent }

// Close sends QUIT and always closes the socket. Safe to call twice.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.SetDeadline(time.Now().Add(s.socket))
	err := s.client.Quit()
	_ = s.client.Close()
	return err
}
