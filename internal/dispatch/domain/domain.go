package domain

import (
	"github.com/google/uuid"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	mdomain "github.com/corvusHold/certmail/internal/mailer/domain"
)

// Batch is one dispatch request.
type Batch struct {
	Recipients []mdomain.Recipient
	Backend    mdomain.Kind
	// Strategy overrides automatic selection when set.
	Strategy   mdomain.Strategy
	Credential *cdomain.Credential
}

// Report is the outcome of a batch. Every recipient appears exactly once in
// Results.
type Report struct {
	BatchID  uuid.UUID
	Sent     int
	Failures []mdomain.Failure
	Backend  mdomain.Kind
	Strategy mdomain.Strategy
	Results  []mdomain.Result
}

// Success reports whether no recipient failed.
func (r Report) Success() bool { return len(r.Failures) == 0 }
