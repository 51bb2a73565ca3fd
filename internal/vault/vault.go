// Package vault protects a mail credential in process memory for the
// duration of one session: PBKDF2-derived AES-256-GCM envelopes with a hard
// one-hour expiry.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
)

const (
	// Iterations is the PBKDF2-HMAC-SHA256 work factor.
	Iterations = 100_000
	// KeySize is the derived AES key length in bytes.
	KeySize = 32
	// SaltSize is the per-envelope salt length in bytes.
	SaltSize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TTL is the hard expiry of a stored credential.
	TTL = time.Hour

	keyPrefix = "cv_"
)

// Envelope is the encrypted-at-rest form of a Credential.
type Envelope struct {
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"iv"`
	Salt       []byte    `json:"salt"`
	CapturedAt time.Time `json:"captured_at"`
}

// Vault stores at most one Credential at a time.
type Vault struct {
	store   SessionStore
	session *Session
	dir     *cdomain.Directory
	now     func() time.Time
	log     zerolog.Logger

	mu          sync.Mutex
	keyName     string
	subscribers []func()
	unwatch     func()
}

// Option configures a Vault.
type Option func(*Vault)

// WithClock overrides time.Now, for expiry tests.
func WithClock(now func() time.Time) Option { return func(v *Vault) { v.now = now } }

// WithDirectory sets the provider directory used for format validation.
func WithDirectory(dir *cdomain.Directory) Option { return func(v *Vault) { v.dir = dir } }

// New builds a Vault over store using session key material. When store is a
// *MemoryStore, deletions made by sibling vaults are observed.
func New(store SessionStore, session *Session, opts ...Option) *Vault {
	v := &Vault{
		store:   store,
		session: session,
		dir:     cdomain.DefaultDirectory(),
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(v)
	}
	if ms, ok := store.(*MemoryStore); ok {
		v.unwatch = ms.Watch(v.onDelete)
	}
	return v
}

// SetLogger allows injection of a structured logger.
func (v *Vault) SetLogger(l zerolog.Logger) { v.log = l }

// Subscribe registers fn to run whenever the stored credential is cleared,
// whether by this vault, by expiry, or by a sibling sharing the store.
func (v *Vault) Subscribe(fn func()) {
	v.mu.Lock()
	v.subscribers = append(v.subscribers, fn)
	v.mu.Unlock()
}

// Close detaches the vault from store notifications.
func (v *Vault) Close() {
	if v.unwatch != nil {
		v.unwatch()
	}
}

// Store validates, encrypts and saves a credential, replacing any previous one.
func (v *Vault) Store(ctx context.Context, address, secret string) error {
	cred, err := cdomain.Parse(address, secret, v.dir, v.now())
	if err != nil {
		return err
	}
	env, err := seal(v.session.material(), cred)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	name := keyPrefix + uuid.NewString()
	v.mu.Lock()
	prev := v.keyName
	v.keyName = name
	v.mu.Unlock()

	v.store.Set(ctx, name, raw)
	if prev != "" {
		v.store.Delete(ctx, prev)
	}
	v.log.Debug().Str("account", cdomain.Fingerprint(cred.Address)).Msg("credential stored")
	return nil
}

// Retrieve returns the stored credential. It reports false when nothing is
// stored, when the envelope fails authentication, or when it is older than
// TTL; the latter two purge the envelope.
func (v *Vault) Retrieve(ctx context.Context) (*cdomain.Credential, bool) {
	v.mu.Lock()
	name := v.keyName
	v.mu.Unlock()
	if name == "" {
		return nil, false
	}
	raw, ok := v.store.Get(ctx, name)
	if !ok {
		v.forget(name)
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		v.purge(ctx, "corrupt envelope")
		return nil, false
	}
	if v.expired(env.CapturedAt) {
		v.purge(ctx, "expired")
		return nil, false
	}
	cred, err := open(v.session.material(), env)
	if err != nil {
		v.purge(ctx, "decrypt failed")
		return nil, false
	}
	if v.expired(cred.CapturedAt) {
		v.purge(ctx, "expired")
		return nil, false
	}
	return &cred, true
}

// Exists reports whether Retrieve would return a credential.
func (v *Vault) Exists(ctx context.Context) bool {
	_, ok := v.Retrieve(ctx)
	return ok
}

// Clear removes the stored credential. Safe to call when empty.
func (v *Vault) Clear(ctx context.Context) {
	v.mu.Lock()
	name := v.keyName
	v.keyName = ""
	v.mu.Unlock()
	if name != "" {
		v.store.Delete(ctx, name)
	}
	v.notify()
}

func (v *Vault) expired(capturedAt time.Time) bool {
	return v.now().Sub(capturedAt) > TTL
}

func (v *Vault) purge(ctx context.Context, reason string) {
	v.log.Debug().Str("reason", reason).Msg("credential purged")
	v.Clear(ctx)
}

func (v *Vault) forget(name string) {
	v.mu.Lock()
	if v.keyName == name {
		v.keyName = ""
	}
	v.mu.Unlock()
}

func (v *Vault) onDelete(key string) {
	v.mu.Lock()
	mine := v.keyName != "" && v.keyName == key
	if mine {
		v.keyName = ""
	}
	v.mu.Unlock()
	if mine {
		v.notify()
	}
}

func (v *Vault) notify() {
	v.mu.Lock()
	subs := make([]func(), len(v.subscribers))
	copy(subs, v.subscribers)
	v.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func deriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, Iterations, KeySize, sha256.New)
}

func seal(passphrase []byte, cred cdomain.Credential) (Envelope, error) {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return Envelope{}, err
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
		Salt:       salt,
		CapturedAt: cred.CapturedAt,
	}, nil
}

func open(passphrase []byte, env Envelope) (cdomain.Credential, error) {
	var cred cdomain.Credential
	if len(env.Nonce) != NonceSize || len(env.Salt) != SaltSize {
		return cred, fmt.Errorf("malformed envelope")
	}
	gcm, err := newGCM(deriveKey(passphrase, env.Salt))
	if err != nil {
		return cred, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return cred, err
	}
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return cred, err
	}
	return cred, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
