// Package vault protects database credentials at rest.
//
// A 32-byte key is derived from a passphrase with PBKDF2-HMAC-SHA256 and a
// fixed versioned salt. Secrets are sealed with AES-256-GCM or
// ChaCha20-Poly1305 and encoded as a URL-safe token:
//
//	sfv1_ + base64url(cipherID ‖ nonce ‖ ciphertext ‖ tag)
//
// IsEncrypted only checks the prefix, so a plaintext that happens to start
// with "sfv1_" is treated as a token.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
)

const (
	// Tag marks a value as a vault token.
	Tag = "sfv1_"

	// EnvPassphrase is consulted when no passphrase option is given.
	EnvPassphrase = "ENCRYPTION_KEY"

	// DefaultPassphrase is the last-resort fallback. Never use it outside
	// local development.
	DefaultPassphrase = "default-key-change-in-production"

	DefaultIterations = 100000
	MinIterations     = 10000

	salt    = "sqlfixture/vault/v1"
	keySize = 32
)

var encoding = base64.RawURLEncoding

type options struct {
	passphrase    string
	hasPassphrase bool
	iterations    int
	cipher        CipherType
	log           logger.Logger
}

type Option func(*options)

// WithPassphrase sets the passphrase explicitly. An empty passphrase is
// rejected by New.
func WithPassphrase(p string) Option {
	return func(o *options) {
		o.passphrase = p
		o.hasPassphrase = true
	}
}

func WithIterations(n int) Option {
	return func(o *options) { o.iterations = n }
}

// WithCipher selects the cipher used by Encrypt. Decrypt accepts tokens of
// every supported cipher.
func WithCipher(c CipherType) Option {
	return func(o *options) { o.cipher = c }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Vault encrypts and decrypts credentials with a single derived key.
// It is safe for concurrent use.
type Vault struct {
	cipher  *aeadCipher
	ciphers map[byte]*aeadCipher
}

// New derives the key and builds the ciphers. Invalid parameters are
// reported as *ConfigError.
func New(opts ...Option) (*Vault, error) {
	o := options{
		iterations: DefaultIterations,
		cipher:     CipherAESGCM,
		log:        logger.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !o.hasPassphrase {
		if env := os.Getenv(EnvPassphrase); env != "" {
			o.passphrase = env
		} else {
			o.log.Warn("no encryption passphrase configured, using built-in default", "env", EnvPassphrase)
			o.passphrase = DefaultPassphrase
		}
	}
	if o.passphrase == "" {
		return nil, &ConfigError{Field: "passphrase", Reason: "must not be empty"}
	}
	if o.iterations < MinIterations {
		return nil, &ConfigError{Field: "iterations", Reason: fmt.Sprintf("%d is below the minimum of %d", o.iterations, MinIterations)}
	}

	key := pbkdf2.Key([]byte(o.passphrase), []byte(salt), o.iterations, keySize, sha256.New)

	aesc, err := newAESGCM(key)
	if err != nil {
		return nil, &ConfigError{Field: "key", Reason: err.Error()}
	}
	chacha, err := newChaCha20(key)
	if err != nil {
		return nil, &ConfigError{Field: "key", Reason: err.Error()}
	}

	v := &Vault{
		ciphers: map[byte]*aeadCipher{
			aesc.id:   aesc,
			chacha.id: chacha,
		},
	}
	switch o.cipher {
	case CipherAESGCM, "":
		v.cipher = aesc
	case CipherChaCha20:
		v.cipher = chacha
	default:
		return nil, &ConfigError{Field: "cipher", Reason: "unknown cipher " + string(o.cipher)}
	}
	return v, nil
}

// Cipher returns the cipher used by Encrypt.
func (v *Vault) Cipher() CipherType { return v.cipher.typ }

func additionalData(id byte) []byte {
	return append([]byte(Tag), id)
}

// Encrypt seals plaintext into a token. Two calls with the same input
// return different tokens.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	sealed, err := v.cipher.seal([]byte(plaintext), additionalData(v.cipher.id))
	if err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}

	payload := make([]byte, 0, 1+len(sealed))
	payload = append(payload, v.cipher.id)
	payload = append(payload, sealed...)
	return Tag + encoding.EncodeToString(payload), nil
}

// Decrypt opens a token produced by Encrypt. Every failure is a
// *DecryptionError; a wrong passphrase never yields a value.
func (v *Vault) Decrypt(token string) (string, error) {
	if !IsEncrypted(token) {
		return "", &DecryptionError{Reason: "missing " + Tag + " tag"}
	}

	payload, err := encoding.DecodeString(strings.TrimPrefix(token, Tag))
	if err != nil {
		return "", &DecryptionError{Reason: "malformed encoding", Err: err}
	}
	if len(payload) < 1 {
		return "", &DecryptionError{Reason: "empty payload"}
	}

	c, ok := v.ciphers[payload[0]]
	if !ok {
		return "", &DecryptionError{Reason: fmt.Sprintf("unknown cipher id %d", payload[0])}
	}

	plain, err := c.open(payload[1:], additionalData(c.id))
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the token tag.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Tag)
}

// IsEncrypted reports whether value carries the token tag.
func (v *Vault) IsEncrypted(value string) bool { return IsEncrypted(value) }

// EncryptIfNeeded returns value unchanged when it is already a token.
func (v *Vault) EncryptIfNeeded(value string) (string, error) {
	if IsEncrypted(value) {
		return value, nil
	}
	return v.Encrypt(value)
}

// DecryptIfNeeded returns value unchanged when it is not a token.
func (v *Vault) DecryptIfNeeded(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return v.Decrypt(value)
}

// GenerateKey returns a random passphrase suitable for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	b := make([]byte, keySize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("vault: generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
