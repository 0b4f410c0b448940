package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stephnangue/bastion/cryptoutil"
)

func TestIsValidTenantID(t *testing.T) {
	valid := []string{"acme", "tenant-1", "a_b_c", "ABC", strings.Repeat("x", 64), "123"}
	for _, id := range valid {
		assert.True(t, IsValidTenantID(id), "expected %q to be valid", id)
	}

	invalid := []string{"", "ab", strings.Repeat("x", 65), "bad tenant", "acme!", "a.b", "<acme>"}
	for _, id := range invalid {
		assert.False(t, IsValidTenantID(id), "expected %q to be invalid", id)
	}
}

func TestIsValidSessionID(t *testing.T) {
	valid := "sess_acme_" + strings.Repeat("ab", 24)
	assert.True(t, IsValidSessionID(valid))

	invalid := []string{
		"",
		"sess_acme_" + strings.Repeat("ab", 23),                // short suffix
		"sess_acme_" + strings.Repeat("AB", 24),                // uppercase hex
		"sess__" + strings.Repeat("ab", 24),                    // empty tenant
		"sid_acme_" + strings.Repeat("ab", 24),                 // wrong prefix
		"sess_acme_" + strings.Repeat("ab", 24) + "x",          // trailing junk
	}
	for _, id := range invalid {
		assert.False(t, IsValidSessionID(id), "expected %q to be invalid", id)
	}
}

func TestIsValidAPIKey(t *testing.T) {
	valid := "smcp_acme_" + strings.Repeat("0f", 32)
	assert.True(t, IsValidAPIKey(valid))

	invalid := []string{
		"",
		"smcp_acme_" + strings.Repeat("0f", 31),
		"smcp_acme_" + strings.Repeat("0F", 32),
		"mcp_acme_" + strings.Repeat("0f", 32),
		"smcp__" + strings.Repeat("0f", 32),
	}
	for _, key := range invalid {
		assert.False(t, IsValidAPIKey(key), "expected %q to be invalid", key)
	}
}

// Generated identifiers always satisfy their own validators.
func TestGeneratedIdentifiersValidate(t *testing.T) {
	for _, tenantID := range []string{"acme", "tenant-1", "a_b", strings.Repeat("t", 64)} {
		assert.True(t, IsValidTenantID(tenantID))
		assert.True(t, IsValidSessionID(cryptoutil.GenerateSessionID(tenantID)))
		assert.True(t, IsValidAPIKey(cryptoutil.GenerateAPIKey(tenantID)))
	}
}

func TestSanitizeInput(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"clean", "clean"},
		{"  padded  ", "padded"},
		{"<script>alert(1)</script>", "scriptalert(1)/script"},
		{`quote'and"quote`, "quoteandquote"},
		{`back\slash`, "backslash"},
		{"<>'\"\\", ""},
	}
	for _, tc := range cases {
		got := SanitizeInput(tc.in)
		assert.Equal(t, tc.want, got, "sanitize(%q)", tc.in)
		// Idempotence.
		assert.Equal(t, got, SanitizeInput(got))
	}
}

func TestIsTainted(t *testing.T) {
	assert.False(t, IsTainted("/v1/tenants/acme/servers/s1/status"))
	assert.False(t, IsTainted("  spaced  "))
	assert.True(t, IsTainted("/v1/<script>"))
	assert.True(t, IsTainted(`path\traversal`))
	assert.True(t, IsTainted(`q='1'`))
}
