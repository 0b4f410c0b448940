package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mitchellh/copystructure"

	log "github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/logical"
	"github.com/stephnangue/bastion/physical"
)

const storagePrefix = "tenant:"

// ErrTenantNotFound is returned when no configuration exists for a
// tenant id.
var ErrTenantNotFound = errors.New("tenant not found")

// QuotaKind names one of the per-tenant numeric ceilings.
type QuotaKind string

const (
	QuotaRequestsPerMinute QuotaKind = "requests_per_minute"
	QuotaServers           QuotaKind = "servers"
	QuotaStorageMB         QuotaKind = "storage_mb"
)

// RegistryConfig tunes the Registry.
type RegistryConfig struct {
	// CacheTTL bounds how stale a cached tenant config may be before
	// it is revalidated against storage. Status flips (active ->
	// suspended) propagate within this interval.
	CacheTTL time.Duration

	// CacheSize is the maximum number of cached tenant configs.
	CacheSize int

	// LookupTimeout bounds storage lookups; exceeding it yields a
	// retryable storage timeout error.
	LookupTimeout time.Duration
}

func (c *RegistryConfig) withDefaults() RegistryConfig {
	out := RegistryConfig{
		CacheTTL:      5 * time.Second,
		CacheSize:     1024,
		LookupTimeout: 2 * time.Second,
	}
	if c == nil {
		return out
	}
	if c.CacheTTL > 0 {
		out.CacheTTL = c.CacheTTL
	}
	if c.CacheSize > 0 {
		out.CacheSize = c.CacheSize
	}
	if c.LookupTimeout > 0 {
		out.LookupTimeout = c.LookupTimeout
	}
	return out
}

// Registry is the authoritative lookup for tenant configuration,
// status and quotas. Every authorization decision made anywhere in the
// gateway goes through it.
type Registry struct {
	backend physical.Backend
	cache   *expirable.LRU[string, *logical.TenantConfig]
	windows *rateWindows
	logger  log.Logger
	config  RegistryConfig
}

// NewRegistry creates a tenant registry on top of a physical backend.
func NewRegistry(backend physical.Backend, logger log.Logger, config *RegistryConfig) *Registry {
	cfg := config.withDefaults()
	return &Registry{
		backend: backend,
		cache:   expirable.NewLRU[string, *logical.TenantConfig](cfg.CacheSize, nil, cfg.CacheTTL),
		windows: newRateWindows(),
		logger:  logger,
		config:  cfg,
	}
}

// Get returns the tenant configuration, or ErrTenantNotFound. The
// returned value is a deep copy; callers may not mutate registry state.
func (r *Registry) Get(ctx context.Context, tenantID string) (*logical.TenantConfig, error) {
	if cached, ok := r.cache.Get(tenantID); ok {
		return cloneConfig(cached)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	entry, err := r.backend.Get(lookupCtx, storagePrefix+tenantID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, logical.ErrStorageTimeout
		}
		return nil, fmt.Errorf("tenant lookup failed: %w", err)
	}
	if entry == nil {
		return nil, ErrTenantNotFound
	}

	var config logical.TenantConfig
	if err := json.Unmarshal(entry.Value, &config); err != nil {
		return nil, fmt.Errorf("corrupt tenant record for %q: %w", tenantID, err)
	}

	r.cache.Add(tenantID, &config)
	return cloneConfig(&config)
}

// IsActive reports whether the tenant exists and is active. Lookup
// failures read as inactive.
func (r *Registry) IsActive(ctx context.Context, tenantID string) bool {
	config, err := r.Get(ctx, tenantID)
	if err != nil {
		return false
	}
	return config.IsActive()
}

// Put stores a tenant configuration. Used by provisioning
// collaborators and administrative operations.
func (r *Registry) Put(ctx context.Context, config *logical.TenantConfig) error {
	if config == nil || config.ID == "" {
		return errors.New("tenant config requires an id")
	}
	now := time.Now().UTC()
	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}
	config.UpdatedAt = now

	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant config: %w", err)
	}

	if err := r.backend.Put(ctx, &physical.Entry{Key: storagePrefix + config.ID, Value: data}); err != nil {
		return fmt.Errorf("failed to persist tenant config: %w", err)
	}

	// Drop rather than update so the next read revalidates.
	r.cache.Remove(config.ID)
	return nil
}

// Delete soft-deletes a tenant. The record is kept, status flipped to
// deleted, so audit history stays resolvable.
func (r *Registry) Delete(ctx context.Context, tenantID string) error {
	config, err := r.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	config.Status = logical.TenantDeleted
	return r.Put(ctx, config)
}

// CheckQuota enforces the named quota for the tenant. For
// QuotaRequestsPerMinute the registry counts requests itself and usage
// is ignored; for the other kinds the caller supplies current usage.
// Exceeding a quota yields logical.ErrRateLimited (requests) or a
// 429-coded quota error, never an authentication failure.
func (r *Registry) CheckQuota(ctx context.Context, tenantID string, kind QuotaKind, usage int) error {
	config, err := r.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return logical.ErrAuthorization("tenant not found")
		}
		return err
	}

	switch kind {
	case QuotaRequestsPerMinute:
		limit := config.Quotas.MaxRequestsPerMinute
		if limit <= 0 {
			return nil
		}
		allowed, retryAfter := r.windows.Allow(tenantID, limit, time.Now())
		if !allowed {
			r.logger.Warn("request quota exceeded",
				log.String("tenant_id", tenantID),
				log.Int("limit", limit),
			)
			return logical.ErrRateLimited("Rate limit exceeded", retryAfter)
		}
		return nil

	case QuotaServers:
		if config.Quotas.MaxServers > 0 && usage >= config.Quotas.MaxServers {
			return logical.ErrRateLimited("Server quota exceeded", 0)
		}
		return nil

	case QuotaStorageMB:
		if config.Quotas.MaxStorageMB > 0 && usage >= config.Quotas.MaxStorageMB {
			return logical.ErrRateLimited("Storage quota exceeded", 0)
		}
		return nil

	default:
		return fmt.Errorf("unknown quota kind %q", kind)
	}
}

func cloneConfig(config *logical.TenantConfig) (*logical.TenantConfig, error) {
	copied, err := copystructure.Copy(config)
	if err != nil {
		return nil, fmt.Errorf("failed to copy tenant config: %w", err)
	}
	return copied.(*logical.TenantConfig), nil
}
