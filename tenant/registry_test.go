package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/logical"
	"github.com/stephnangue/bastion/physical/inmem"
)

func testRegistry(t *testing.T, config *RegistryConfig) *Registry {
	t.Helper()
	backend := inmem.NewInmemBackend(logger.NewTestLogger())
	t.Cleanup(backend.Close)
	return NewRegistry(backend, logger.NewTestLogger(), config)
}

func activeTenant(id string, requestsPerMinute int) *logical.TenantConfig {
	return &logical.TenantConfig{
		ID:     id,
		Name:   id + " inc",
		Status: logical.TenantActive,
		Quotas: logical.TenantQuotas{
			MaxServers:           3,
			MaxRequestsPerMinute: requestsPerMinute,
			MaxStorageMB:         512,
		},
		Roles: []logical.TenantRole{
			{Name: "admin", Permissions: []string{"*"}},
		},
	}
}

func TestRegistryGetPut(t *testing.T) {
	r := testRegistry(t, nil)
	ctx := context.Background()

	_, err := r.Get(ctx, "acme")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	require.NoError(t, r.Put(ctx, activeTenant("acme", 100)))

	config, err := r.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", config.ID)
	assert.True(t, config.IsActive())
	assert.False(t, config.CreatedAt.IsZero())

	// Mutating the returned copy must not leak into the registry.
	config.Status = logical.TenantSuspended
	config.Roles[0].Permissions[0] = "none"

	again, err := r.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, logical.TenantActive, again.Status)
	assert.Equal(t, "*", again.Roles[0].Permissions[0])
}

func TestRegistryStatusFlipPropagates(t *testing.T) {
	r := testRegistry(t, &RegistryConfig{CacheTTL: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, activeTenant("acme", 100)))
	assert.True(t, r.IsActive(ctx, "acme"))

	suspended := activeTenant("acme", 100)
	suspended.Status = logical.TenantSuspended
	require.NoError(t, r.Put(ctx, suspended))

	// Put invalidates the cache, so the flip is visible immediately.
	assert.False(t, r.IsActive(ctx, "acme"))
}

func TestRegistrySoftDelete(t *testing.T) {
	r := testRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, activeTenant("acme", 100)))
	require.NoError(t, r.Delete(ctx, "acme"))

	// The record survives for audit history, status flipped.
	config, err := r.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, logical.TenantDeleted, config.Status)
	assert.False(t, r.IsActive(ctx, "acme"))
}

func TestCheckQuotaRequestsPerMinute(t *testing.T) {
	r := testRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, activeTenant("acme", 100)))

	for i := 0; i < 100; i++ {
		require.NoError(t, r.CheckQuota(ctx, "acme", QuotaRequestsPerMinute, 0), "request %d", i+1)
	}

	err := r.CheckQuota(ctx, "acme", QuotaRequestsPerMinute, 0)
	require.Error(t, err)

	var coded *logical.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, 429, coded.Status)
	assert.Equal(t, logical.KindRateLimit, coded.Kind)
	assert.Greater(t, coded.RetryAfter, 0)
}

func TestCheckQuotaConcurrent(t *testing.T) {
	r := testRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, activeTenant("acme", 100)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed, denied := 0, 0

	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.CheckQuota(ctx, "acme", QuotaRequestsPerMinute, 0)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				allowed++
			} else {
				denied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
	assert.Equal(t, 50, denied)
}

func TestCheckQuotaServers(t *testing.T) {
	r := testRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, activeTenant("acme", 100)))

	assert.NoError(t, r.CheckQuota(ctx, "acme", QuotaServers, 2))
	assert.Error(t, r.CheckQuota(ctx, "acme", QuotaServers, 3))
}

func TestCheckQuotaUnknownTenant(t *testing.T) {
	r := testRegistry(t, nil)
	err := r.CheckQuota(context.Background(), "ghost", QuotaRequestsPerMinute, 0)
	require.Error(t, err)
	assert.Equal(t, 403, logical.GetErrorCode(err))
}

func TestRateWindowReset(t *testing.T) {
	w := newRateWindows()
	base := time.Date(2026, 8, 29, 10, 0, 30, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ok, _ := w.Allow("acme", 5, base)
		assert.True(t, ok)
	}
	ok, retryAfter := w.Allow("acme", 5, base)
	assert.False(t, ok)
	assert.LessOrEqual(t, retryAfter, 31)

	// Next window starts fresh.
	ok, _ = w.Allow("acme", 5, base.Add(time.Minute))
	assert.True(t, ok)

	// Windows are per tenant.
	ok, _ = w.Allow("globex", 5, base)
	assert.True(t, ok)
}

func TestRateWindowsSweepStaleTenants(t *testing.T) {
	w := newRateWindows()
	base := time.Date(2026, 8, 29, 10, 0, 30, 0, time.UTC)

	for _, id := range []string{"acme", "globex", "initech"} {
		ok, _ := w.Allow(id, 5, base)
		assert.True(t, ok)
	}
	w.mu.Lock()
	assert.Len(t, w.windows, 3)
	w.mu.Unlock()

	// Two minutes later only the requesting tenant's window survives.
	ok, _ := w.Allow("acme", 5, base.Add(2*time.Minute))
	assert.True(t, ok)

	w.mu.Lock()
	assert.Len(t, w.windows, 1)
	_, kept := w.windows["acme"]
	w.mu.Unlock()
	assert.True(t, kept)

	// A swept tenant simply starts a fresh window.
	ok, _ = w.Allow("globex", 5, base.Add(2*time.Minute))
	assert.True(t, ok)
}
