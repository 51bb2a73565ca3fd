package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// SecretLength is the exact length of an app password after whitespace removal.
const SecretLength = 16

var (
	secretPattern  = regexp.MustCompile(`^[A-Za-z0-9]{16}$`)
	addressPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
)

// Credential is an address and app password used to authenticate to a mail
// submission server.
type Credential struct {
	Address    string    `json:"address"`
	Secret     string    `json:"secret"`
	CapturedAt time.Time `json:"captured_at"`
}

// NormalizeSecret strips every whitespace rune. Providers display app
// passwords in space-separated groups of four.
func NormalizeSecret(secret string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, secret)
}

// NormalizeAddress trims and lowercases an address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ValidateSecret checks an already-normalized secret.
func ValidateSecret(secret string) error {
	if secret == "" {
		return ErrInvalidFormat{Field: "appPassword", Reason: "app password is required"}
	}
	if len(secret) != SecretLength {
		return ErrInvalidFormat{Field: "appPassword", Reason: "app password must be exactly 16 characters"}
	}
	if !secretPattern.MatchString(secret) {
		return ErrInvalidFormat{Field: "appPassword", Reason: "app password must contain only letters and digits"}
	}
	return nil
}

// ValidateAddress checks an already-normalized address against the syntax
// rules and the provider directory.
func ValidateAddress(address string, dir *Directory) error {
	if address == "" {
		return ErrInvalidFormat{Field: "email", Reason: "email is required"}
	}
	if !addressPattern.MatchString(address) {
		return ErrInvalidFormat{Field: "email", Reason: "email address is malformed"}
	}
	if _, err := dir.Lookup(address); err != nil {
		return ErrInvalidFormat{Field: "email", Reason: "email must be a Gmail address or an institutional .edu.in address"}
	}
	return nil
}

// Parse normalizes and validates an address/secret pair and returns the
// resulting Credential stamped with now.
func Parse(address, secret string, dir *Directory, now time.Time) (Credential, error) {
	address = NormalizeAddress(address)
	secret = NormalizeSecret(secret)
	if err := ValidateAddress(address, dir); err != nil {
		return Credential{}, err
	}
	if err := ValidateSecret(secret); err != nil {
		return Credential{}, err
	}
	return Credential{Address: address, Secret: secret, CapturedAt: now}, nil
}

// Fingerprint returns a short non-reversible tag for logs.
func Fingerprint(address string) string {
	sum := sha256.Sum256([]byte(NormalizeAddress(address)))
	return hex.EncodeToString(sum[:4])
}
