// Package security holds the symmetric cipher used at the wallet storage
// boundary to seal private keys and mnemonics.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrEmptyInput is returned when encrypting or decrypting an empty string.
var ErrEmptyInput = errors.New("security: empty input")

// KeyCipher seals key material with AES-256-GCM. Output is base64 of
// nonce||ciphertext. A KeyCipher is immutable and safe for concurrent use.
type KeyCipher struct {
	aead cipher.AEAD
}

// NewKeyCipher builds a cipher from a base64 encoded 32 byte key. A raw 32
// byte string is accepted as well.
func NewKeyCipher(masterKey string) (*KeyCipher, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return nil, errors.New("security: master key is not configured")
	}
	keyBytes := []byte(masterKey)
	if decoded, err := base64.StdEncoding.DecodeString(masterKey); err == nil {
		keyBytes = decoded
	}
	if len(keyBytes) != KeySize {
		return nil, fmt.Errorf("security: master key must be %d bytes, got %d", KeySize, len(keyBytes))
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create GCM: %w", err)
	}
	return &KeyCipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *KeyCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *KeyCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", ErrEmptyInput
	}
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("security: decode base64: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(decoded) < nonceSize {
		return "", errors.New("security: ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, decoded[:nonceSize], decoded[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("security: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// GenerateKey returns a random base64 encoded AES-256 key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("security: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
