package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stephnangue/bastion/audit"
	log "github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/logical"
	"github.com/stephnangue/bastion/tenant"
	"github.com/stephnangue/bastion/validation"
)

// Credential schemes, in strict precedence order. The first credential
// present on the request is the one evaluated; a malformed credential
// never falls through to a lower-precedence scheme.
const (
	SchemeAPIKey  = "api_key"
	SchemeSession = "session"
	SchemeBearer  = "bearer"
	SchemeNone    = "none"
)

const (
	headerAuthorization = "Authorization"
	headerSessionID     = "Mcp-Session-Id"

	apiKeyAuthPrefix = "ApiKey "
	bearerAuthPrefix = "Bearer "
)

// Authenticator orchestrates API-key, session and bearer-token
// verification and produces the authoritative AuthResult for a
// request. Every terminal outcome is reported to the audit recorder.
type Authenticator struct {
	sessions *SessionStore
	keys     *APIKeyStore
	registry *tenant.Registry
	bearer   *BearerVerifier
	recorder *audit.Recorder
	logger   log.Logger

	lookupTimeout time.Duration
}

// AuthenticatorConfig wires the Authenticator's collaborators.
type AuthenticatorConfig struct {
	Sessions *SessionStore
	Keys     *APIKeyStore
	Registry *tenant.Registry
	Bearer   *BearerVerifier
	Recorder *audit.Recorder
	Logger   log.Logger

	// LookupTimeout bounds session and key store lookups.
	LookupTimeout time.Duration
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(config AuthenticatorConfig) *Authenticator {
	timeout := config.LookupTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Authenticator{
		sessions:      config.Sessions,
		keys:          config.Keys,
		registry:      config.Registry,
		bearer:        config.Bearer,
		recorder:      config.Recorder,
		logger:        config.Logger,
		lookupTimeout: timeout,
	}
}

// Authenticate evaluates the request's credentials. It never panics and
// never leaks internal detail: unexpected faults collapse to a generic
// "Authentication failed" result.
func (a *Authenticator) Authenticate(ctx context.Context, header http.Header, correlationID string) (result *logical.AuthResult) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("panic during authentication",
				log.Any("panic", rec),
				log.String("correlation_id", correlationID),
			)
			result = a.deny(SchemeNone, logical.ErrInternal("Authentication failed"))
			a.record(result, correlationID, audit.ResultError)
			return
		}
		if result != nil {
			outcome := audit.ResultFailure
			if result.IsAuthenticated {
				outcome = audit.ResultSuccess
			}
			a.record(result, correlationID, outcome)
		}
	}()

	// Lookups finish even if the caller disconnects, so the audit
	// trail records every attempt; only the lookup timeout bounds them.
	ctx = context.WithoutCancel(ctx)

	authHeader := header.Get(headerAuthorization)

	if strings.HasPrefix(authHeader, apiKeyAuthPrefix) {
		return a.authenticateAPIKey(ctx, strings.TrimPrefix(authHeader, apiKeyAuthPrefix))
	}
	if sessionID := header.Get(headerSessionID); sessionID != "" {
		return a.authenticateSession(ctx, sessionID)
	}
	if strings.HasPrefix(authHeader, bearerAuthPrefix) {
		return a.authenticateBearer(ctx, strings.TrimPrefix(authHeader, bearerAuthPrefix))
	}

	return a.deny(SchemeNone, logical.ErrAuthentication("Authentication required"))
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, rawKey string) *logical.AuthResult {
	if !validation.IsValidAPIKey(rawKey) {
		return a.deny(SchemeAPIKey, logical.ErrValidation("Invalid API key format"))
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()

	key, err := a.keys.GetByRawKey(lookupCtx, rawKey)
	if err != nil {
		return a.denyStorage(SchemeAPIKey, err)
	}
	if key == nil {
		return a.deny(SchemeAPIKey, logical.ErrAuthentication("Invalid API key"))
	}
	if key.Expired(time.Now()) {
		return a.deny(SchemeAPIKey, logical.ErrAuthentication("API key expired"))
	}

	tenantConfig, err := a.registry.Get(ctx, key.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			// Key references a tenant the registry no longer knows:
			// treated as an authentication failure.
			return a.deny(SchemeAPIKey, logical.ErrAuthentication("Invalid API key"))
		}
		return a.denyStorage(SchemeAPIKey, err)
	}
	if !tenantConfig.IsActive() {
		return a.deny(SchemeAPIKey, logical.ErrAuthorization("Tenant is not active"))
	}

	if err := a.keys.TouchLastUsed(lookupCtx, rawKey, key); err != nil {
		a.logger.Warn("failed to record api key use", log.Err(err), log.String("key_id", key.KeyID))
	}

	// A synthetic session-shaped scope carrying the key's permissions.
	scope := &logical.SessionContext{
		TenantID:     key.TenantID,
		SessionID:    "",
		Permissions:  key.Permissions,
		ExpiresAt:    key.ExpiresAt,
		CreatedAt:    key.CreatedAt,
		LastActivity: time.Now().UTC(),
	}

	return &logical.AuthResult{
		IsAuthenticated: true,
		Session:         scope,
		Tenant:          tenantConfig,
		Scheme:          SchemeAPIKey,
	}
}

func (a *Authenticator) authenticateSession(ctx context.Context, sessionID string) *logical.AuthResult {
	if !validation.IsValidSessionID(sessionID) {
		return a.deny(SchemeSession, logical.ErrValidation("Invalid session ID format"))
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()

	session, err := a.sessions.Get(lookupCtx, sessionID)
	if err != nil {
		return a.denyStorage(SchemeSession, err)
	}
	if session == nil || !time.Now().Before(session.ExpiresAt) {
		return a.deny(SchemeSession, logical.ErrAuthentication("Invalid or expired session"))
	}

	tenantConfig, err := a.registry.Get(ctx, session.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return a.deny(SchemeSession, logical.ErrAuthentication("Invalid or expired session"))
		}
		return a.denyStorage(SchemeSession, err)
	}
	if !tenantConfig.IsActive() {
		return a.deny(SchemeSession, logical.ErrAuthorization("Tenant is not active"))
	}

	if err := a.sessions.Touch(lookupCtx, session); err != nil {
		a.logger.Warn("failed to update session activity", log.Err(err), log.String("session_id", sessionID))
	}

	return &logical.AuthResult{
		IsAuthenticated: true,
		Session:         session,
		Tenant:          tenantConfig,
		Scheme:          SchemeSession,
	}
}

func (a *Authenticator) authenticateBearer(ctx context.Context, tokenString string) *logical.AuthResult {
	if a.bearer == nil {
		// Bearer authentication is not configured; the token is
		// uniformly invalid, not an internal fault.
		return a.deny(SchemeBearer, logical.ErrAuthentication("Invalid bearer token"))
	}
	claims, err := a.bearer.Verify(tokenString)
	if err != nil {
		return a.deny(SchemeBearer, logical.ErrAuthentication("Invalid bearer token"))
	}

	tenantConfig, err := a.registry.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return a.deny(SchemeBearer, logical.ErrAuthentication("Invalid bearer token"))
		}
		return a.denyStorage(SchemeBearer, err)
	}
	if !tenantConfig.IsActive() {
		return a.deny(SchemeBearer, logical.ErrAuthorization("Tenant is not active"))
	}

	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	scope := &logical.SessionContext{
		TenantID:     tenantConfig.ID,
		Permissions:  claims.Permissions,
		ExpiresAt:    expires,
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
	}

	return &logical.AuthResult{
		IsAuthenticated: true,
		Session:         scope,
		Tenant:          tenantConfig,
		Scheme:          SchemeBearer,
	}
}

func (a *Authenticator) deny(scheme string, denial *logical.CodedError) *logical.AuthResult {
	return &logical.AuthResult{
		IsAuthenticated: false,
		Error:           denial.Message,
		Scheme:          scheme,
		Denial:          denial,
	}
}

// denyStorage converts storage faults to a retryable timeout or a
// generic failure, never exposing the underlying error text.
func (a *Authenticator) denyStorage(scheme string, err error) *logical.AuthResult {
	a.logger.Error("credential store failure", log.Err(err), log.String("scheme", scheme))
	var coded *logical.CodedError
	if errors.As(err, &coded) && coded == logical.ErrStorageTimeout {
		return a.deny(scheme, coded)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return a.deny(scheme, logical.ErrStorageTimeout)
	}
	return a.deny(scheme, logical.ErrInternal("Authentication failed"))
}

func (a *Authenticator) record(result *logical.AuthResult, correlationID string, outcome audit.Result) {
	tenantID := ""
	sessionID := ""
	if result.Tenant != nil {
		tenantID = result.Tenant.ID
	}
	if result.Session != nil {
		if tenantID == "" {
			tenantID = result.Session.TenantID
		}
		sessionID = result.Session.SessionID
	}

	details := map[string]any{}
	if result.Error != "" {
		details["error"] = result.Error
	}

	a.recorder.Record(&audit.Entry{
		TenantID:      tenantID,
		Action:        "authenticate",
		Resource:      result.Scheme,
		Result:        outcome,
		SessionID:     sessionID,
		Details:       details,
		CorrelationID: correlationID,
	})
}
