package settings

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const cipherPrefix = "enc:v1:"

var ErrMalformedCiphertext = errors.New("settings: malformed ciphertext")

// Cipher encrypts setting values at rest.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(stored string) (string, error)
}

// AEADCipher is XChaCha20-Poly1305 keyed from a secret through HKDF-SHA256.
// Output is "enc:v1:" + base64(nonce || ciphertext).
type AEADCipher struct {
	aead cipher.AEAD
}

func NewCipher(secret string) (*AEADCipher, error) {
	if secret == "" {
		return nil, errors.New("settings: empty encryption secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("storefront-checkout settings v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &AEADCipher{aead: aead}, nil
}

func (c *AEADCipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return cipherPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AEADCipher) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return "", ErrMalformedCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, cipherPrefix))
	if err != nil || len(raw) < c.aead.NonceSize() {
		return "", ErrMalformedCiphertext
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	return string(plain), nil
}

func IsEncrypted(s string) bool { return strings.HasPrefix(s, cipherPrefix) }
