package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const encPrefix = "enc:"

// SecretKey manages the master encryption key for API secrets, using
// AES-256-GCM for authenticated encryption. Besides the active key it may
// carry previous keys: values encrypted under an old key still decrypt, and
// are re-encrypted under the active key on the next save. That lets operators
// rotate CONDUCTOR_SECRET_KEY without losing stored secrets.
type SecretKey struct {
	key      []byte
	previous [][]byte
}

// NewSecretKey initializes encryption from CONDUCTOR_SECRET_KEY env or
// auto-generates a persistent key at ~/.conductor/secret.key.
// CONDUCTOR_SECRET_KEY_PREVIOUS may list retired keys (comma-separated) that
// remain valid for decryption only.
func NewSecretKey() (*SecretKey, error) {
	previous := previousKeys()

	if rawKey := os.Getenv("CONDUCTOR_SECRET_KEY"); rawKey != "" {
		return &SecretKey{key: deriveKey(rawKey), previous: previous}, nil
	}

	// Auto-generate and persist on first run
	keyPath := filepath.Join(homeDir(), ".conductor", "secret.key")
	if data, err := os.ReadFile(keyPath); err == nil && len(data) >= 32 {
		return &SecretKey{key: data[:32], previous: previous}, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write secret key: %w", err)
	}

	return &SecretKey{key: key, previous: previous}, nil
}

// deriveKey stretches a passphrase into a 32-byte AES key.
func deriveKey(passphrase string) []byte {
	h := sha256.Sum256([]byte(passphrase))
	return h[:]
}

func previousKeys() [][]byte {
	raw := os.Getenv("CONDUCTOR_SECRET_KEY_PREVIOUS")
	if raw == "" {
		return nil
	}
	var keys [][]byte
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, deriveKey(p))
		}
	}
	return keys
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext under the active key and returns base64-encoded
// ciphertext with "enc:" prefix for storage identification.
func (s *SecretKey) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := newGCM(s.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts an "enc:" prefixed base64 string back to plaintext. The
// active key is tried first, then any previous keys. Unprefixed values pass
// through untouched.
func (s *SecretKey) Decrypt(encrypted string) (string, error) {
	if encrypted == "" || !strings.HasPrefix(encrypted, encPrefix) {
		return encrypted, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encrypted, encPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	plaintext, err := open(s.key, data)
	if err == nil {
		return plaintext, nil
	}
	for _, key := range s.previous {
		if plaintext, perr := open(key, data); perr == nil {
			return plaintext, nil
		}
	}
	return "", err
}

func open(key, data []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// MaskSecret returns a masked version safe for API display: "****abcd"
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// isMasked reports whether a value is a MaskSecret output rather than a real
// secret, so updates echoing a masked value back never clobber the stored one.
func isMasked(s string) bool {
	return strings.HasPrefix(s, "****")
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return "/tmp"
}
