// Package crypto implements the payload encryption collaborator: bookmark
// payloads are stored server-side as opaque AES-256-GCM ciphertext, keyed by
// a secret the server operator configures.
//
// Decryption failure is always a per-record, recoverable condition. Callers
// are expected to log and skip records they cannot decrypt, never to abort
// a whole batch.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/marksync/marksync/internal/bookmarks"
)

// keySalt is fixed: the derived key must be reproducible across restarts
// from the configured secret alone.
var keySalt = []byte("marksync.bookmark.payload.v1")

// Cipher encrypts and decrypts bookmark payloads.
type Cipher struct {
	aead cipher.AEAD
}

// New derives an AES-256 key from the configured secret and returns a
// ready-to-use payload cipher.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret cannot be empty")
	}

	key := pbkdf2.Key([]byte(secret), keySalt, 4096, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// EncryptPayload serializes the payload and returns base64 ciphertext with
// the nonce prepended.
func (c *Cipher) EncryptPayload(p bookmarks.Payload) (string, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptPayload reverses EncryptPayload. It fails when the ciphertext is
// empty, malformed, or was produced under a different secret.
func (c *Cipher) DecryptPayload(encrypted string) (bookmarks.Payload, error) {
	var p bookmarks.Payload

	if encrypted == "" {
		return p, fmt.Errorf("encrypted data is empty")
	}

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return p, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return p, fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return p, fmt.Errorf("failed to decrypt: %w", err)
	}

	if err := json.Unmarshal(plain, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return p, nil
}
