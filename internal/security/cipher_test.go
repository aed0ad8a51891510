package security

import (
	"strings"
	"testing"
)

func TestKeyCipherRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := NewKeyCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	secret := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	sealed, err := c.Encrypt(secret)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(sealed, secret) {
		t.Fatalf("ciphertext leaks plaintext")
	}
	again, _ := c.Encrypt(secret)
	if again == sealed {
		t.Fatalf("nonce reuse: identical ciphertexts")
	}

	opened, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if opened != secret {
		t.Fatalf("round trip mismatch")
	}
}

func TestKeyCipherRejectsWrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	c1, _ := NewKeyCipher(k1)
	c2, _ := NewKeyCipher(k2)

	sealed, err := c1.Encrypt("mnemonic words")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c2.Decrypt(sealed); err == nil {
		t.Fatalf("expected authentication failure with another key")
	}
}

func TestNewKeyCipherValidatesKey(t *testing.T) {
	cases := []string{"", "   ", "short", "dG9vLXNob3J0"}
	for _, key := range cases {
		if _, err := NewKeyCipher(key); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if _, err := NewKeyCipher(strings.Repeat("k", KeySize-1) + "!"); err != nil {
		t.Fatalf("raw 32 byte key should be accepted: %v", err)
	}
}

func TestKeyCipherEmptyInput(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := NewKeyCipher(key)
	if _, err := c.Encrypt(""); err != ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := c.Decrypt(""); err != ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := c.Decrypt("!!notbase64"); err == nil {
		t.Fatalf("expected decode error")
	}
}
