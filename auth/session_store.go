package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stephnangue/bastion/logical"
	"github.com/stephnangue/bastion/physical"
)

const sessionPrefix = "session:"

// SessionStore persists SessionContext records. Sessions are created
// at login by a collaborator outside this gateway; the store validates,
// touches and revokes them.
type SessionStore struct {
	backend physical.Backend
}

// NewSessionStore creates a session store on top of a physical backend.
func NewSessionStore(backend physical.Backend) *SessionStore {
	return &SessionStore{backend: backend}
}

// Get returns the session, or (nil, nil) when absent. Expired records
// read as absent because the storage TTL tracks ExpiresAt.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*logical.SessionContext, error) {
	entry, err := s.backend.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	var session logical.SessionContext
	if err := json.Unmarshal(entry.Value, &session); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}
	return &session, nil
}

// Put stores a session with a TTL matching its expiry.
func (s *SessionStore) Put(ctx context.Context, session *logical.SessionContext) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	entry := &physical.Entry{
		Key:       sessionPrefix + session.SessionID,
		Value:     data,
		ExpiresAt: session.ExpiresAt,
	}
	if err := s.backend.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Touch updates the session's last-activity timestamp.
func (s *SessionStore) Touch(ctx context.Context, session *logical.SessionContext) error {
	session.LastActivity = time.Now().UTC()
	return s.Put(ctx, session)
}

// Delete revokes a session.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.backend.Delete(ctx, sessionPrefix+sessionID)
}
