// Package crypto encrypts account credentials before they reach the database.
//
// Stored values look like "cred:v1:<base64(nonce+ciphertext)>". Decryption is
// strict: anything without the prefix, or sealed under a different key, is an
// error rather than a passthrough.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const prefix = "cred:v1:"

var (
	ErrEmptyInput    = errors.New("crypto: empty input")
	ErrDecryptFailed = errors.New("crypto: decryption failed")
)

// FieldEncryptor seals and opens credential strings. Safe for concurrent use.
type FieldEncryptor struct {
	gcm cipher.AEAD
}

// NewFieldEncryptor derives an AES-256 key from the server key using HKDF.
// The purpose string keeps this derived key separate from any other use of
// the same server key.
func NewFieldEncryptor(serverKey []byte, purpose string) (*FieldEncryptor, error) {
	if len(serverKey) == 0 {
		return nil, errors.New("crypto: server key is empty")
	}

	kdf := hkdf.New(sha256.New, serverKey, []byte("tootplan-credential-encryption"), []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}

	return &FieldEncryptor{gcm: gcm}, nil
}

// Encrypt seals plaintext and returns a prefixed string for DB storage.
func (fe *FieldEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}

	nonce := make([]byte, fe.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext := fe.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a value previously produced by Encrypt.
func (fe *FieldEncryptor) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", ErrEmptyInput
	}
	if !strings.HasPrefix(stored, prefix) {
		return "", ErrDecryptFailed
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", ErrDecryptFailed
	}

	nonceSize := fe.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrDecryptFailed
	}

	plaintext, err := fe.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}
