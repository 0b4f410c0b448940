package audit

import (
	"fmt"
	"time"
)

// Result classifies the outcome of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultError   Result = "error"
)

// Entry is one immutable audit record. Entries are never mutated after
// being written and are keyed by tenant for scoped retrieval.
type Entry struct {
	TenantID      string         `json:"tenantId"`
	Action        string         `json:"action"`
	Resource      string         `json:"resource"`
	Result        Result         `json:"result"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"userId,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlationId"`
}

// Clone creates a deep copy of the entry so the recorder's background
// worker never races the caller.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Details != nil {
		clone.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// RetentionPeriod is how long audit entries are kept before the
// storage collaborator may delete them.
const RetentionPeriod = 30 * 24 * time.Hour

// storageKey builds the persisted key for an entry:
// audit:<tenantId>:<epochMillis>:<correlationId>
func storageKey(e *Entry) string {
	return fmt.Sprintf("audit:%s:%d:%s", e.TenantID, e.Timestamp.UnixMilli(), e.CorrelationID)
}

// tenantPrefix scopes a listing to one tenant.
func tenantPrefix(tenantID string) string {
	return fmt.Sprintf("audit:%s:", tenantID)
}
