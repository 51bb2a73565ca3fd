package domain

import (
	"fmt"
	"strings"
	"sync"
)

// ProviderClass groups domains that share remediation guidance.
type ProviderClass string

const (
	ClassConsumer      ProviderClass = "consumer"
	ClassInstitutional ProviderClass = "institutional"
)

// Security selects how the submission connection is protected.
type Security string

const (
	SecurityStartTLS Security = "starttls"
	SecurityImplicit Security = "tls"
	SecurityNone     Security = "none" // tests and local relays only
)

// Provider maps a domain pattern to an SMTP submission endpoint.
//
// Pattern is either an exact domain ("gmail.com") or a suffix starting with
// a dot (".edu.in").
type Provider struct {
	Name     string        `json:"name"`
	Pattern  string        `json:"pattern"`
	Class    ProviderClass `json:"class"`
	Host     string        `json:"-"`
	Port     int           `json:"-"`
	Security Security      `json:"-"`
}

func (p Provider) Addr() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

func (p Provider) matches(domain string) bool {
	if strings.HasPrefix(p.Pattern, ".") {
		return strings.HasSuffix(domain, p.Pattern) && len(domain) > len(p.Pattern)
	}
	return domain == p.Pattern
}

// AuthHint returns the remediation text shown after a rejected login.
func (p Provider) AuthHint() string {
	if p.Class == ClassInstitutional {
		return "Authentication failed. For college email: (1) confirm your institution uses Google Workspace, " +
			"(2) enable 2-Step Verification on the account, (3) generate a new App Password, " +
			"(4) ask your IT administrator whether App Passwords are allowed for your domain."
	}
	return "Invalid Gmail credentials. Check the address and generate a new App Password with 2-Step Verification enabled."
}

// Directory is a lookup table from domain pattern to provider. Exact
// matches win over suffix matches; among suffixes the longest wins.
type Directory struct {
	mu        sync.RWMutex
	providers []Provider
}

func NewDirectory(providers ...Provider) *Directory {
	d := &Directory{}
	for _, p := range providers {
		d.Register(p)
	}
	return d
}

// DefaultDirectory returns the directory for the supported provider classes.
func DefaultDirectory() *Directory {
	return NewDirectory(
		Provider{Name: "gmail", Pattern: "gmail.com", Class: ClassConsumer, Host: "smtp.gmail.com", Port: 587, Security: SecurityStartTLS},
		Provider{Name: "google-workspace-edu-in", Pattern: ".edu.in", Class: ClassInstitutional, Host: "smtp.gmail.com", Port: 587, Security: SecurityStartTLS},
	)
}

// Register adds or replaces the provider for p.Pattern.
func (d *Directory) Register(p Provider) {
	p.Pattern = strings.ToLower(strings.TrimSpace(p.Pattern))
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.providers {
		if d.providers[i].Pattern == p.Pattern {
			d.providers[i] = p
			return
		}
	}
	d.providers = append(d.providers, p)
}

// Lookup resolves the provider for an address.
func (d *Directory) Lookup(address string) (Provider, error) {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return Provider{}, ErrUnsupportedDomain{Domain: address}
	}
	domain := strings.ToLower(address[at+1:])

	d.mu.RLock()
	defer d.mu.RUnlock()
	var best *Provider
	for i := range d.providers {
		p := &d.providers[i]
		if !p.matches(domain) {
			continue
		}
		if p.Pattern == domain {
			return *p, nil
		}
		if best == nil || len(p.Pattern) > len(best.Pattern) {
			best = p
		}
	}
	if best == nil {
		return Provider{}, ErrUnsupportedDomain{Domain: domain}
	}
	return *best, nil
}

// List returns a copy of the registered providers.
func (d *Directory) List() []Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Provider, len(d.providers))
	copy(out, d.providers)
	return out
}
