package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// Wire identifiers; the first byte of every token payload.
const (
	idAESGCM   byte = 1
	idChaCha20 byte = 2
)

// aeadCipher provides authenticated encryption with the nonce prepended to
// the sealed output.
type aeadCipher struct {
	typ  CipherType
	id   byte
	aead cipher.AEAD
}

func newAESGCM(key []byte) (*aeadCipher, error) {
	if len(key) != keySize {
		return nil, errors.New("invalid key size for AES-256-GCM: must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{typ: CipherAESGCM, id: idAESGCM, aead: aead}, nil
}

func newChaCha20(key []byte) (*aeadCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("invalid key size for ChaCha20-Poly1305: must be 32 bytes")
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{typ: CipherChaCha20, id: idChaCha20, aead: aead}, nil
}

// seal encrypts plaintext and returns nonce ‖ ciphertext ‖ tag.
func (c *aeadCipher) seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// open reverses seal.
func (c *aeadCipher) open(ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:c.aead.NonceSize()]
	ciphertext = ciphertext[c.aead.NonceSize():]

	return c.aead.Open(nil, nonce, ciphertext, additionalData)
}
