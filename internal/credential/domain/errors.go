package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrCredentialRequired is returned when a batch targets the direct backend
// without a credential. Callers re-prompt the user.
var ErrCredentialRequired = errors.New("credentials required for direct sending")

// ErrInsecureTransport is returned for credential traffic over plain HTTP in
// production.
var ErrInsecureTransport = errors.New("credentials must be submitted over HTTPS")

// ErrInvalidFormat is returned when the address or secret fails validation.
// Reason names the constraint that failed.
type ErrInvalidFormat struct {
	Field  string
	Reason string
}

func (e ErrInvalidFormat) Error() string {
	return e.Reason
}

// ErrUnsupportedDomain is returned when no provider is registered for the
// address domain.
type ErrUnsupportedDomain struct {
	Domain string
}

func (e ErrUnsupportedDomain) Error() string {
	return fmt.Sprintf("unsupported email domain '%s'", e.Domain)
}

// ErrRateLimited is returned once a client exhausts its validation attempts.
type ErrRateLimited struct {
	ResetAt time.Time
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("too many validation attempts, retry after %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// ErrAuthenticationFailed is returned when the mail server rejects the
// credential. Hint carries provider-class specific remediation.
type ErrAuthenticationFailed struct {
	Hint string
	Err  error
}

func (e ErrAuthenticationFailed) Error() string {
	return e.Hint
}

func (e ErrAuthenticationFailed) Unwrap() error { return e.Err }

// ErrNetwork wraps transient transport failures. Op is the protocol step.
type ErrNetwork struct {
	Op  string
	Err error
}

func (e ErrNetwork) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e ErrNetwork) Unwrap() error { return e.Err }
