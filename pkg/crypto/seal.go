// Package crypto encrypts cached conversation previews at rest.
//
// Previews contain message text, so when a cache key is configured the
// repository stores them sealed with XChaCha20-Poly1305 (authenticated
// encryption, 24-byte random nonce per value).
//
//	key, _ := crypto.DeriveKey("64-hex-chars")
//	sealed, _ := crypto.Encrypt("hello", key)
//	plain, _ := crypto.Decrypt(sealed, key)
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// DeriveKey decodes a hex string into a 32-byte key.
// The input must be exactly 64 hex characters.
func DeriveKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key must be exactly %d bytes (%d hex chars), got %d bytes",
			chacha20poly1305.KeySize, chacha20poly1305.KeySize*2, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext || tag).
func Encrypt(plaintext string, key []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce generation: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(encoded string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}

	if len(data) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed (wrong key or corrupted data): %w", err)
	}

	return string(plaintext), nil
}
