package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// GenerateSecureID returns 2n lowercase hex characters sourced from
// crypto/rand. A failure of the system entropy source is not
// recoverable, so it panics instead of degrading to a weaker source.
func GenerateSecureID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("cryptoutil: entropy source unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

// GenerateCorrelationID returns an id that threads one request through
// authentication, routing and audit.
func GenerateCorrelationID() string {
	return "req_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + GenerateSecureID(16)
}

// GenerateSessionID returns a session id scoped to the tenant.
func GenerateSessionID(tenantID string) string {
	return "sess_" + tenantID + "_" + GenerateSecureID(24)
}

// GenerateAPIKey returns a raw API key scoped to the tenant. Only a
// hash of the returned value may ever be persisted.
func GenerateAPIKey(tenantID string) string {
	return "smcp_" + tenantID + "_" + GenerateSecureID(32)
}

// HashString returns the lowercase hex SHA-256 digest of the input.
// Used to derive storage lookup keys from secrets.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeCompare compares two strings in time independent of the
// position of the first mismatch. A length mismatch returns false
// without comparing content. Use only for secrets.
func ConstantTimeCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// GenerateEncryptionKey returns a fresh 256-bit key.
func GenerateEncryptionKey() []byte {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("cryptoutil: entropy source unavailable: %v", err))
	}
	return buf
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce.
// The nonce is returned alongside the ciphertext and must be stored
// with it; it is never reused for the same key.
func Encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens an AES-256-GCM ciphertext with its stored nonce.
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
