package logical

import (
	"context"
	"time"
)

// SessionContext is the tenant-scoped authenticated context attached to
// a request. For API-key authentication a synthetic session carrying
// the key's permissions is produced; only session-header authentication
// returns a session that exists in the session store.
type SessionContext struct {
	TenantID     string    `json:"tenantId"`
	SessionID    string    `json:"sessionId"`
	Permissions  []string  `json:"permissions"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// HasPermission reports whether the session carries the permission or
// the wildcard.
func (s *SessionContext) HasPermission(perm string) bool {
	for _, p := range s.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// AuthResult is the authoritative authentication decision for one
// request. It is transient and never persisted.
type AuthResult struct {
	IsAuthenticated bool
	Session         *SessionContext
	Tenant          *TenantConfig
	Error           string

	// Scheme is the credential scheme that was evaluated: "api_key",
	// "session", "bearer" or "none". Audit logged as the resource.
	Scheme string

	// Denial carries the status-coded error for failed results so the
	// HTTP boundary can map it without string matching. Nil on success.
	Denial *CodedError
}

// TenantConfig is declared here so that auth decisions, routing and
// audit can share one shape without import cycles.
type TenantConfig struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Endpoints []string      `json:"endpoints"`
	Quotas    TenantQuotas  `json:"quotas"`
	Roles     []TenantRole  `json:"roles"`
	Status    TenantStatus  `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// TenantQuotas are per-tenant numeric ceilings enforced before
// authorization succeeds.
type TenantQuotas struct {
	MaxServers           int `json:"maxServers"`
	MaxRequestsPerMinute int `json:"maxRequestsPerMinute"`
	MaxStorageMB         int `json:"maxStorageMB"`
}

// TenantRole binds a role name to a permission set.
type TenantRole struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDeleted   TenantStatus = "deleted"
)

// IsActive reports whether requests may be authorized for the tenant.
func (t *TenantConfig) IsActive() bool {
	return t != nil && t.Status == TenantActive
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// ContextWithCorrelationID attaches the request correlation id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

const requestIDKey contextKey = "request_id"

// ContextWithRequestID attaches the server-assigned request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
