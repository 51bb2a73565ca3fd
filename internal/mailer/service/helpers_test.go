package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/mailer/domain"
	"github.com/corvusHold/certmail/internal/platform/smtpconn"
	"github.com/corvusHold/certmail/internal/platform/smtpconn/smtptest"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

var testCred = cdomain.Credential{Address: "sender@gmail.com", Secret: "abcdefghijklmnop"}

func startSMTP(t *testing.T, s *smtptest.Server) (*smtptest.Server, *cdomain.Directory) {
	t.Helper()
	srv, err := smtptest.Start(s)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	dir := cdomain.NewDirectory(cdomain.Provider{
		Name: "local", Pattern: "gmail.com", Class: cdomain.ClassConsumer,
		Host: srv.Host(), Port: srv.Port(), Security: cdomain.SecurityNone,
	})
	return srv, dir
}

var fastSMTP = SMTPOptions{Timeouts: smtpconn.Timeouts{Dial: 2 * time.Second, Greeting: 2 * time.Second, Socket: 2 * time.Second}}

func recipients(n int) []domain.Recipient {
	out := make([]domain.Recipient, n)
	for i := range out {
		out[i] = domain.Recipient{
			Email:       fmt.Sprintf("r%02d@example.com", i),
			Name:        fmt.Sprintf("Recipient %d", i),
			FileName:    fmt.Sprintf("r%02d.png", i),
			Certificate: pngHeader,
		}
	}
	return out
}

func composeFor(from string) ComposeFunc {
	c := &Composer{signature: "Team"}
	return func(r domain.Recipient) (domain.Message, error) {
		return c.Compose(r, from, "Team", true)
	}
}

// scriptedSender fails for the listed recipients and records calls.
type scriptedSender struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
	at    []time.Time
}

func (s *scriptedSender) Send(_ context.Context, msg domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg.To)
	s.at = append(s.at, time.Now())
	if s.fail[msg.To] {
		return "", errors.New("mailbox unavailable")
	}
	return "id-" + msg.To, nil
}
