package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stephnangue/bastion/audit"
	"github.com/stephnangue/bastion/auth"
	"github.com/stephnangue/bastion/instance"
	log "github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/logical"
	"github.com/stephnangue/bastion/physical"
	"github.com/stephnangue/bastion/tenant"
	"github.com/stephnangue/bastion/validation"
)

// CoreConfig holds everything a Core needs to assemble its
// collaborators. Backend and Logger are required; the rest have
// working defaults.
type CoreConfig struct {
	Backend physical.Backend
	Logger  log.Logger

	// BearerSecret is the shared HMAC secret bearer tokens are
	// verified against. Bearer authentication is disabled when empty.
	BearerSecret []byte
	// BearerIssuer, when set, must match the token's iss claim.
	BearerIssuer string

	// Launcher creates server instance backends. Defaults to the
	// in-process launcher.
	Launcher instance.Launcher

	RegistryConfig *tenant.RegistryConfig
	RecorderConfig *audit.RecorderConfig
	RouterConfig   *instance.RouterConfig
}

// Core wires the gateway components together and runs the request
// pipeline: validate, authenticate, enforce quota, route. The HTTP
// layer stays a thin translation over these methods.
type Core struct {
	backend  physical.Backend
	registry *tenant.Registry
	recorder *audit.Recorder
	auth     *auth.Authenticator
	sessions *auth.SessionStore
	keys     *auth.APIKeyStore
	router   *instance.Router
	logger   log.Logger
}

// NewCore assembles a Core from the given configuration.
func NewCore(conf *CoreConfig) (*Core, error) {
	if conf == nil || conf.Backend == nil {
		return nil, fmt.Errorf("core: a storage backend is required")
	}
	if conf.Logger == nil {
		return nil, fmt.Errorf("core: a logger is required")
	}

	registry := tenant.NewRegistry(conf.Backend, conf.Logger, conf.RegistryConfig)
	recorder := audit.NewRecorder(conf.Backend, conf.Logger, conf.RecorderConfig)
	sessions := auth.NewSessionStore(conf.Backend)
	keys := auth.NewAPIKeyStore(conf.Backend)

	var bearer *auth.BearerVerifier
	if len(conf.BearerSecret) > 0 {
		var err error
		bearer, err = auth.NewBearerVerifier(conf.BearerSecret, conf.BearerIssuer)
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
	}

	authenticator := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Sessions: sessions,
		Keys:     keys,
		Registry: registry,
		Bearer:   bearer,
		Recorder: recorder,
		Logger:   conf.Logger,
	})

	launcher := conf.Launcher
	if launcher == nil {
		launcher = instance.NewInProcLauncher()
	}
	router := instance.NewRouter(launcher, registry, recorder, conf.Logger, conf.RouterConfig)

	return &Core{
		backend:  conf.Backend,
		registry: registry,
		recorder: recorder,
		auth:     authenticator,
		sessions: sessions,
		keys:     keys,
		router:   router,
		logger:   conf.Logger.WithSubsystem("core"),
	}, nil
}

// Registry exposes the tenant registry for provisioning.
func (c *Core) Registry() *tenant.Registry { return c.registry }

// Sessions exposes the session store for provisioning.
func (c *Core) Sessions() *auth.SessionStore { return c.sessions }

// Keys exposes the API key store for provisioning.
func (c *Core) Keys() *auth.APIKeyStore { return c.keys }

// Recorder exposes the audit recorder.
func (c *Core) Recorder() *audit.Recorder { return c.recorder }

// Authenticate runs the credential schemes against the request
// headers. See auth.Authenticator for the precedence rules.
func (c *Core) Authenticate(ctx context.Context, header http.Header, correlationID string) *logical.AuthResult {
	return c.auth.Authenticate(ctx, header, correlationID)
}

// authorize gates an authenticated result against the tenant named in
// the request path, then charges the request against the tenant's
// per-minute quota. Mismatched path and credential tenants are a 403,
// not a 401: the caller holds a valid credential, just not for that
// tenant.
func (c *Core) authorize(ctx context.Context, result *logical.AuthResult, pathTenantID string) error {
	if result == nil || !result.IsAuthenticated {
		if result != nil && result.Denial != nil {
			return result.Denial
		}
		return logical.ErrAuthentication("Authentication required")
	}
	if !validation.IsValidTenantID(pathTenantID) || validation.IsTainted(pathTenantID) {
		return logical.ErrValidation("Invalid tenant ID")
	}
	if result.Session == nil || result.Session.TenantID != pathTenantID {
		c.recorder.Record(&audit.Entry{
			TenantID:      authTenant(result),
			Action:        "authorize",
			Resource:      "tenant",
			Result:        audit.ResultFailure,
			Details:       map[string]any{"pathTenantId": pathTenantID},
			CorrelationID: logical.CorrelationIDFromContext(ctx),
		})
		return logical.ErrAuthorization("Access denied")
	}
	return c.registry.CheckQuota(ctx, pathTenantID, tenant.QuotaRequestsPerMinute, 0)
}

func authTenant(result *logical.AuthResult) string {
	if result != nil && result.Session != nil {
		return result.Session.TenantID
	}
	return "unknown"
}

func validateServerID(serverID string) error {
	if serverID == "" || len(serverID) > 128 || validation.IsTainted(serverID) {
		return logical.ErrValidation("Invalid server ID")
	}
	return nil
}

// StartServer starts the tenant's named server instance.
func (c *Core) StartServer(ctx context.Context, result *logical.AuthResult, tenantID, serverID string) (instance.Status, error) {
	if err := c.authorize(ctx, result, tenantID); err != nil {
		return instance.Status{}, err
	}
	if err := validateServerID(serverID); err != nil {
		return instance.Status{}, err
	}
	return c.router.Start(ctx, tenantID, serverID)
}

// StopServer stops the tenant's named server instance.
func (c *Core) StopServer(ctx context.Context, result *logical.AuthResult, tenantID, serverID string) (instance.Status, error) {
	if err := c.authorize(ctx, result, tenantID); err != nil {
		return instance.Status{}, err
	}
	if err := validateServerID(serverID); err != nil {
		return instance.Status{}, err
	}
	return c.router.Stop(ctx, tenantID, serverID)
}

// ServerStatus reports the instance state without mutating it.
func (c *Core) ServerStatus(ctx context.Context, result *logical.AuthResult, tenantID, serverID string) (instance.Status, error) {
	if err := c.authorize(ctx, result, tenantID); err != nil {
		return instance.Status{}, err
	}
	if err := validateServerID(serverID); err != nil {
		return instance.Status{}, err
	}
	return c.router.Status(tenantID, serverID), nil
}

// rpcShape is the minimal envelope checked before a body is forwarded.
type rpcShape struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id"`
}

// ForwardMCP relays one protocol request to the tenant's server
// instance. Only the envelope shape is validated here; the protocol
// semantics belong to the instance.
func (c *Core) ForwardMCP(ctx context.Context, result *logical.AuthResult, tenantID, serverID string, body []byte) ([]byte, error) {
	if err := c.authorize(ctx, result, tenantID); err != nil {
		return nil, err
	}
	if err := validateServerID(serverID); err != nil {
		return nil, err
	}

	var shape rpcShape
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, logical.ErrValidation("Invalid JSON-RPC request")
	}
	if shape.JSONRPC != "2.0" || shape.Method == "" {
		return nil, logical.ErrValidation("Invalid JSON-RPC request")
	}

	return c.router.Forward(ctx, tenantID, serverID, body)
}

// AuditTrail lists the caller's own audit entries, newest first.
func (c *Core) AuditTrail(ctx context.Context, result *logical.AuthResult, limit int) ([]*audit.Entry, error) {
	if result == nil || !result.IsAuthenticated {
		if result != nil && result.Denial != nil {
			return nil, result.Denial
		}
		return nil, logical.ErrAuthentication("Authentication required")
	}
	tenantID := authTenant(result)
	if err := c.registry.CheckQuota(ctx, tenantID, tenant.QuotaRequestsPerMinute, 0); err != nil {
		return nil, err
	}
	return c.recorder.List(ctx, tenantID, limit)
}

// Shutdown flushes the audit queue. The backend is closed by whoever
// opened it.
func (c *Core) Shutdown() {
	c.recorder.Close()
}
