package server

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/stephnangue/bastion/auth"
	"github.com/stephnangue/bastion/core"
	"github.com/stephnangue/bastion/cryptoutil"
	"github.com/stephnangue/bastion/logical"
)

const devTenantID = "dev"

type devInitResult struct {
	TenantID string
	APIKey   string
}

// devModeInit provisions an in-memory dev tenant with a freshly
// generated API key.
func devModeInit(c *core.Core) (*devInitResult, error) {
	ctx := context.Background()

	err := c.Registry().Put(ctx, &logical.TenantConfig{
		ID:     devTenantID,
		Name:   "Dev Tenant",
		Status: logical.TenantActive,
		Roles: []logical.TenantRole{
			{Name: "admin", Permissions: []string{"*"}},
		},
		Quotas: logical.TenantQuotas{
			MaxServers:           10,
			MaxRequestsPerMinute: 1000,
			MaxStorageMB:         100,
		},
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("dev tenant provisioning failed: %w", err)
	}

	rawKey := cryptoutil.GenerateAPIKey(devTenantID)
	err = c.Keys().Put(ctx, rawKey, &auth.APIKey{
		KeyID:       "dev-key",
		TenantID:    devTenantID,
		Permissions: []string{"*"},
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("dev key provisioning failed: %w", err)
	}

	return &devInitResult{TenantID: devTenantID, APIKey: rawKey}, nil
}

// printDevBanner prints the dev mode startup banner with the dev
// tenant's API key.
func printDevBanner(w io.Writer, address string, result *devInitResult) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "==> Bastion server started in dev mode! <==\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "WARNING! dev mode is enabled! In this mode, Bastion runs entirely\n")
	fmt.Fprintf(w, "in-memory with a pre-provisioned tenant. All data is lost on\n")
	fmt.Fprintf(w, "restart. Do NOT run dev mode in production!\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Address:  %s\n", address)
	fmt.Fprintf(w, "Tenant:   %s\n", result.TenantID)
	fmt.Fprintf(w, "API Key:  %s\n", result.APIKey)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Authenticate requests with:\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "    Authorization: ApiKey %s\n", result.APIKey)
	fmt.Fprintf(w, "\n")
}
