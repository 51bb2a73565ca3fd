package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Session is ephemeral key material for one process lifetime, the analogue
// of a browser page load. It mixes stable host attributes with fresh random
// entropy; the host attributes are obfuscation only, the random part is what
// makes envelopes from an older Session undecryptable.
//
// A Session is never persisted.
type Session struct {
	passphrase []byte
}

// NewSession builds a Session from host attributes plus 32 random bytes.
func NewSession() (*Session, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return nil, fmt.Errorf("session entropy: %w", err)
	}
	host, _ := os.Hostname()
	h := sha256.New()
	for _, attr := range []string{
		host,
		runtime.GOOS,
		runtime.GOARCH,
		runtime.Version(),
		strconv.Itoa(os.Getuid()),
		strconv.Itoa(os.Getpid()),
	} {
		h.Write([]byte(attr))
		h.Write([]byte{0})
	}
	h.Write(entropy)
	return &Session{passphrase: h.Sum(nil)}, nil
}

// NewSessionFromSecret wraps caller-provided key material.
func NewSessionFromSecret(secret []byte) *Session {
	p := make([]byte, len(secret))
	copy(p, secret)
	return &Session{passphrase: p}
}

func (s *Session) material() []byte { return s.passphrase }
