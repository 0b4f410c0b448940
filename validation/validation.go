package validation

import (
	"regexp"
	"strings"
)

// The regexes below are exact contracts; identifiers that do not match
// are rejected before any lookup happens.
var (
	tenantIDRe  = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)
	sessionIDRe = regexp.MustCompile(`^sess_[a-zA-Z0-9_-]+_[a-f0-9]{48}$`)
	apiKeyRe    = regexp.MustCompile(`^smcp_[a-zA-Z0-9_-]+_[a-f0-9]{64}$`)
)

// IsValidTenantID reports whether the tenant id matches the tenant
// grammar: 3 to 64 characters of [A-Za-z0-9_-].
func IsValidTenantID(tenantID string) bool {
	return tenantIDRe.MatchString(tenantID)
}

// IsValidSessionID reports whether the session id has the form
// sess_<tenantId>_<48 lowercase hex>.
func IsValidSessionID(sessionID string) bool {
	return sessionIDRe.MatchString(sessionID)
}

// IsValidAPIKey reports whether the key has the form
// smcp_<tenantId>_<64 lowercase hex>.
func IsValidAPIKey(apiKey string) bool {
	return apiKeyRe.MatchString(apiKey)
}

const strippedChars = `<>'"\`

// SanitizeInput strips angle brackets, quotes and backslashes and trims
// surrounding whitespace. It is idempotent. Callers compare the result
// against the original to detect tainted input and reject the request;
// the sanitized value itself is never used in place of the original.
func SanitizeInput(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if strings.ContainsRune(strippedChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// IsTainted reports whether the input contains characters that
// SanitizeInput would strip. Surrounding whitespace alone does not
// count as taint.
func IsTainted(input string) bool {
	return strings.ContainsAny(input, strippedChars)
}
