// Package smtptest provides an in-process SMTP submission server for tests.
package smtptest

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Message is one accepted DATA transaction.
type Message struct {
	From string
	To   []string
	Data []byte
	Conn int
}

// Server is a plaintext SMTP server speaking enough of the protocol for
// net/smtp: EHLO, AUTH PLAIN, MAIL, RCPT, DATA, RSET, NOOP, QUIT.
type Server struct {
	// Users maps username to password. Empty means every AUTH succeeds.
	Users map[string]string
	// RejectRcpt makes RCPT TO fail for the listed addresses.
	RejectRcpt map[string]bool
	// Delay is applied before answering DATA completion.
	Delay time.Duration

	ln       net.Listener
	mu       sync.Mutex
	messages []Message
	conns    int
	open     int32
	maxOpen  int32
	quits    int32
	wg       sync.WaitGroup
}

// Start listens on 127.0.0.1 with a random port.
func Start(s *Server) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Host returns the listen host.
func (s *Server) Host() string { return "127.0.0.1" }

// Port returns the listen port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Addr returns host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops accepting and waits for the accept loop.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

// Messages returns a copy of accepted messages.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Connections is the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Open is the number of currently connected clients.
func (s *Server) Open() int { return int(atomic.LoadInt32(&s.open)) }

// MaxConcurrent is the peak number of simultaneous connections.
func (s *Server) MaxConcurrent() int { return int(atomic.LoadInt32(&s.maxOpen)) }

// Quits is the number of QUIT commands received.
func (s *Server) Quits() int { return int(atomic.LoadInt32(&s.quits)) }

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		id := s.conns
		s.mu.Unlock()
		n := atomic.AddInt32(&s.open, 1)
		for {
			m := atomic.LoadInt32(&s.maxOpen)
			if n <= m || atomic.CompareAndSwapInt32(&s.maxOpen, m, n) {
				break
			}
		}
		go func() {
			defer atomic.AddInt32(&s.open, -1)
			s.handle(conn, id)
		}()
	}
}

func (s *Server) handle(conn net.Conn, id int) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	write := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	write("220 smtptest ESMTP ready")
	authed := len(s.Users) == 0
	var from string
	var to []string

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			write("250-smtptest")
			write("250-AUTH PLAIN LOGIN")
			write("250 8BITMIME")
		case strings.HasPrefix(upper, "AUTH PLAIN"):
			parts := strings.Fields(line)
			payload := ""
			if len(parts) == 3 {
				payload = parts[2]
			} else {
				write("334 ")
				payload, _ = r.ReadString('\n')
			}
			if s.checkPlain(strings.TrimSpace(payload)) {
				authed = true
				write("235 2.7.0 Authentication successful")
			} else {
				write("535 5.7.8 Username and Password not accepted")
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			if !authed {
				write("530 5.7.0 Authentication required")
				continue
			}
			from = extractAddr(line[len("MAIL FROM:"):])
			to = nil
			write("250 2.1.0 Ok")
		case strings.HasPrefix(upper, "RCPT TO:"):
			if !authed {
				write("530 5.7.0 Authentication required")
				continue
			}
			rcpt := extractAddr(line[len("RCPT TO:"):])
			if s.RejectRcpt[strings.ToLower(rcpt)] {
				write("550 5.1.1 Recipient rejected")
				continue
			}
			to = append(to, rcpt)
			write("250 2.1.5 Ok")
		case upper == "DATA":
			if !authed || from == "" || len(to) == 0 {
				write("503 5.5.1 Bad sequence of commands")
				continue
			}
			write("354 End data with <CR><LF>.<CR><LF>")
			var buf bytes.Buffer
			for {
				dl, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if dl == ".\r\n" || dl == ".\n" {
					break
				}
				buf.WriteString(strings.TrimPrefix(dl, "."))
			}
			if s.Delay > 0 {
				time.Sleep(s.Delay)
			}
			s.mu.Lock()
			s.messages = append(s.messages, Message{From: from, To: to, Data: buf.Bytes(), Conn: id})
			s.mu.Unlock()
			from, to = "", nil
			write("250 2.0.0 Ok: queued as " + strconv.Itoa(id))
		case upper == "RSET":
			from, to = "", nil
			write("250 2.0.0 Ok")
		case upper == "NOOP":
			write("250 2.0.0 Ok")
		case upper == "QUIT":
			atomic.AddInt32(&s.quits, 1)
			write("221 2.0.0 Bye")
			return
		default:
			write("502 5.5.2 Command not recognized")
		}
	}
}

func (s *Server) checkPlain(payload string) bool {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return false
	}
	parts := bytes.Split(raw, []byte{0})
	if len(parts) != 3 {
		return false
	}
	if len(s.Users) == 0 {
		return true
	}
	want, ok := s.Users[string(parts[1])]
	return ok && want == string(parts[2])
}

func extractAddr(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ">"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "<")
}
