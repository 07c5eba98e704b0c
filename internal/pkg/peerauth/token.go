// Package peerauth signs and verifies the short-lived tokens nodes
// attach to node-to-node requests, and the CSRF cookie token HttpFront
// issues to browser sessions.
//
// Both use an AEAD (ChaCha20-Poly1305) sealed with a key derived from
// the configured secret via HKDF, the authenticated-encryption
// construction internal/pkg/tls uses for session key material in this
// codebase, rather than the bare AES the original viewer used — sealing
// authenticates the payload instead of merely hiding it.
package peerauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MaxSkew is the maximum age a peer token may have and still be
// accepted (spec: peer auth tokens are rejected if |now-date| > 120s).
const MaxSkew = 120 * time.Second

var (
	// ErrExpired is returned when a token's date falls outside MaxSkew of now.
	ErrExpired = errors.New("peerauth: token expired or issued in the future")
	// ErrPathMismatch is returned when the token's bound path does not
	// match the request URL it was presented with.
	ErrPathMismatch = errors.New("peerauth: token path does not match request")
	// ErrMalformed is returned for tokens that do not decode/decrypt.
	ErrMalformed = errors.New("peerauth: malformed token")
)

// claims is the payload sealed inside a peer token.
type claims struct {
	DateMs int64  `json:"date"`
	PID    int    `json:"pid"`
	UserID string `json:"userId"`
	Path   string `json:"path"`
}

func deriveKey(secret string, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func seal(secret, info string, payload any) (string, error) {
	key, err := deriveKey(secret, info)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("new aead: %w", err)
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal token: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func open(secret, info, token string, out any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	key, err := deriveKey(secret, info)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("new aead: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return ErrMalformed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

const peerTokenInfo = "packhound-peer-auth-v1"

// Sign produces an x-moloch-auth-style token binding userID and path to
// the current time, sealed with the secret configured for nodeName.
func Sign(secret, userID, path string) (string, error) {
	return seal(secret, peerTokenInfo, claims{
		DateMs: time.Now().UnixMilli(),
		PID:    os.Getpid(),
		UserID: userID,
		Path:   path,
	})
}

// Verify decodes token and checks that its bound path equals
// requestPath and that its timestamp is within MaxSkew of now.
// Returns the authenticated userID on success.
func Verify(secret, token, requestPath string) (userID string, err error) {
	var c claims
	if err := open(secret, peerTokenInfo, token, &c); err != nil {
		return "", err
	}
	if c.Path != requestPath {
		return "", ErrPathMismatch
	}
	age := time.Since(time.UnixMilli(c.DateMs))
	if age < 0 {
		age = -age
	}
	if age > MaxSkew {
		return "", ErrExpired
	}
	return c.UserID, nil
}
