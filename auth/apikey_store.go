package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stephnangue/bastion/cryptoutil"
	"github.com/stephnangue/bastion/physical"
)

const apiKeyPrefix = "apikey:"

// APIKey is the stored representation of a tenant API key. The raw key
// itself is never persisted; records are addressed by the SHA-256 hash
// of the full key, so the hex suffix cannot be derived from anything
// in storage.
type APIKey struct {
	KeyID       string     `json:"keyId"`
	TenantID    string     `json:"tenantId"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
}

// Expired reports whether the key's expiry has passed.
func (k *APIKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// APIKeyStore persists API key records, addressed by key hash. Keys
// are minted by an administrative operation; the store validates,
// touches and revokes them.
type APIKeyStore struct {
	backend physical.Backend
}

// NewAPIKeyStore creates an API key store on top of a physical backend.
func NewAPIKeyStore(backend physical.Backend) *APIKeyStore {
	return &APIKeyStore{backend: backend}
}

func (s *APIKeyStore) keyFor(rawKey string) string {
	return apiKeyPrefix + cryptoutil.HashString(rawKey)
}

// GetByRawKey looks up the record for a raw key value, or (nil, nil)
// when no such key is registered.
func (s *APIKeyStore) GetByRawKey(ctx context.Context, rawKey string) (*APIKey, error) {
	entry, err := s.backend.Get(ctx, s.keyFor(rawKey))
	if err != nil {
		return nil, fmt.Errorf("api key lookup failed: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	var key APIKey
	if err := json.Unmarshal(entry.Value, &key); err != nil {
		return nil, fmt.Errorf("corrupt api key record: %w", err)
	}
	return &key, nil
}

// Put registers a key record under the hash of its raw value. The
// record carries no storage TTL: an expired key must still resolve so
// its use can be rejected as expired rather than unknown.
func (s *APIKeyStore) Put(ctx context.Context, rawKey string, key *APIKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal api key: %w", err)
	}
	entry := &physical.Entry{
		Key:   s.keyFor(rawKey),
		Value: data,
	}
	if err := s.backend.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist api key: %w", err)
	}
	return nil
}

// TouchLastUsed records the key's use. Persisted best-effort.
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, rawKey string, key *APIKey) error {
	now := time.Now().UTC()
	key.LastUsed = &now
	return s.Put(ctx, rawKey, key)
}

// Revoke removes a key record.
func (s *APIKeyStore) Revoke(ctx context.Context, rawKey string) error {
	return s.backend.Delete(ctx, s.keyFor(rawKey))
}
