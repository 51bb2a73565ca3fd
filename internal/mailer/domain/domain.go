package domain

import (
	"context"
	"errors"
)

// Kind names a delivery backend.
type Kind string

const (
	// Hosted relays through a transactional email API with a server-held key.
	Hosted Kind = "hosted"
	// Direct submits over SMTP authenticated as the user.
	Direct Kind = "direct"
)

// Strategy names how a batch is paced.
type Strategy string

const (
	Sequential Strategy = "sequential"
	Pooled     Strategy = "pooled"
)

// ErrPoolClosed is returned by pool operations after shutdown.
var ErrPoolClosed = errors.New("smtp pool closed")

// Attachment is one MIME part carried with a message.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
	// ContentID makes the part addressable from the HTML body as cid:<id>.
	ContentID string
	Inline    bool
}

// Message is a fully composed email.
type Message struct {
	From        string
	FromName    string
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers one message and returns the backend message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Recipient is one row of a batch.
type Recipient struct {
	Email       string
	Name        string
	FileName    string
	Certificate []byte
}

// Result is the outcome of one send attempt.
type Result struct {
	Email     string `json:"email"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Backend   Kind   `json:"backend"`
}

// Failure is a failed recipient in a Summary.
type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Summary aggregates results.
type Summary struct {
	Sent     int       `json:"sentCount"`
	Failures []Failure `json:"errors"`
}

// Summarize counts successes and lists failures in result order.
func Summarize(results []Result) Summary {
	s := Summary{Failures: []Failure{}}
	for _, r := range results {
		if r.Success {
			s.Sent++
			continue
		}
		s.Failures = append(s.Failures, Failure{Email: r.Email, Error: r.Error})
	}
	return s
}
