package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerClaims are the claims the gateway reads from a verified token.
// The subject names the tenant; permissions are an optional custom
// claim.
type BearerClaims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// BearerVerifier verifies HMAC-signed bearer tokens against a
// configured secret. It only verifies; token issuance is a
// collaborator's job.
type BearerVerifier struct {
	secret []byte
	issuer string
}

// ErrBearerInvalid is the uniform verification failure. Which check
// failed (signature, expiry, issuer, shape) is deliberately not
// distinguishable from the outside.
var ErrBearerInvalid = errors.New("bearer token invalid")

// NewBearerVerifier creates a verifier for the given shared secret and
// expected issuer. An empty issuer disables the issuer check.
func NewBearerVerifier(secret []byte, issuer string) (*BearerVerifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("bearer verification secret is required")
	}
	return &BearerVerifier{secret: secret, issuer: issuer}, nil
}

// Verify checks signature, expiry and issuer, and returns the claims.
// Every failure collapses to ErrBearerInvalid.
func (v *BearerVerifier) Verify(tokenString string) (*BearerClaims, error) {
	claims := &BearerClaims{}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(time.Now),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, options...)
	if err != nil || !token.Valid {
		return nil, ErrBearerInvalid
	}
	if claims.Subject == "" {
		return nil, ErrBearerInvalid
	}
	return claims, nil
}
