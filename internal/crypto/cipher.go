package crypto

import (
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// DefaultSalt is used when no KDF salt is configured.
const DefaultSalt = "openclaw-hub"

// scrypt cost parameters. N is deliberately high to slow down secret guessing.
const (
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

var (
	ErrEmptySecret = errors.New("encryption secret must not be empty")
	ErrDecrypt     = errors.New("message decryption failed")
)

// Sealed is the stored form of an encrypted payload.
type Sealed struct {
	CipherText string `json:"cipher_text"` // hex
	IV         string `json:"iv"`          // hex, one fresh nonce per Encrypt call
}

// Cipher encrypts message payloads at rest with a key derived from the
// process-wide secret. Rotating the secret makes older payloads undecryptable.
type Cipher struct {
	aead gocipher.AEAD
}

// NewCipher derives the payload key from secret with scrypt.
func NewCipher(secret string, salt []byte) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if len(salt) == 0 {
		salt = []byte(DefaultSalt)
	}

	key, err := scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext. aad is authenticated but not encrypted; the same
// aad must be passed to Decrypt.
func (c *Cipher) Encrypt(plaintext, aad []byte) (Sealed, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}

	ct := c.aead.Seal(nil, nonce, plaintext, aad)
	return Sealed{
		CipherText: hex.EncodeToString(ct),
		IV:         hex.EncodeToString(nonce),
	}, nil
}

// Decrypt opens a sealed payload. Any malformed field, tampered byte, aad
// mismatch or different secret yields ErrDecrypt.
func (c *Cipher) Decrypt(s Sealed, aad []byte) ([]byte, error) {
	nonce, err := hex.DecodeString(s.IV)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, ErrDecrypt
	}
	ct, err := hex.DecodeString(s.CipherText)
	if err != nil || len(ct) < c.aead.Overhead() {
		return nil, ErrDecrypt
	}

	pt, err := c.aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}
