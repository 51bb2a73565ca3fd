package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeCredentialValidated = "credential.validate.success"
	TypeCredentialRejected  = "credential.validate.failed"
	TypeBatchCompleted      = "dispatch.batch.completed"
)

// Event represents an operational event.
// Type examples: "dispatch.batch.completed", "credential.validate.failed"
// Meta may contain backend, strategy, counts, fingerprint, ip, etc. It never
// holds secrets or full addresses.
type Event struct {
	Type    string
	BatchID uuid.UUID
	Meta    map[string]string
	Time    time.Time
}

// Publisher publishes events to an external system (log, queue, etc.).
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
