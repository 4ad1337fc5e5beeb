// Package httpapi implements the cache server's HTTP surface (spec.md
// §4.5): routes, request-scoped IDs, bearer-token authorization, and
// the periodic cleanup scheduler.
package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/btdt-ci/btdt/internal/cacheerr"
)

// Operation is one of the two operations a token can be scoped to
// (spec.md §6: "check if operation(\"get\"|\"put\")").
type Operation string

const (
	OperationGet Operation = "get"
	OperationPut Operation = "put"
)

// claims is this repo's concrete token format: a signed JWT carrying
// `cache` and `operation` restrictions, standing in for spec.md §6's
// biscuit v2 token — same contract (bearer token scoped to a cache name
// and an operation, server-side verification against a configured key,
// no revocation), built on golang-jwt/jwt since no biscuit binding
// exists in this repo's dependency surface.
type claims struct {
	Cache     string `json:"cache"`
	Operation string `json:"operation"`
	jwt.RegisteredClaims
}

// Authorizer verifies bearer tokens against a single HMAC signing key
// (spec.md §6's auth_private_key). A nil or empty key disables
// authorization entirely, matching an unset auth_private_key.
type Authorizer struct {
	key []byte
}

// NewAuthorizer creates an Authorizer using key to verify token signatures.
func NewAuthorizer(key []byte) *Authorizer {
	return &Authorizer{key: key}
}

// Authorize checks that the bearer token in the Authorization header of
// r grants access to cache and op. Returns a cacheerr KindUnauthorized
// error if no valid token is presented, or KindForbidden if the token
// is valid but doesn't cover cache/op.
func (a *Authorizer) Authorize(r *http.Request, cache string, op Operation) error {
	if len(a.key) == 0 {
		return nil
	}

	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return cacheerr.New(cacheerr.KindUnauthorized, "missing bearer token")
	}
	tokenString := strings.TrimPrefix(header, prefix)

	var parsed claims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil {
		return cacheerr.Wrap(cacheerr.KindUnauthorized, "invalid bearer token", err)
	}

	if parsed.Cache != cache {
		return cacheerr.New(cacheerr.KindForbidden, "token not scoped to cache "+cache)
	}
	if parsed.Operation != string(op) {
		return cacheerr.New(cacheerr.KindForbidden, "token not scoped to operation "+string(op))
	}
	return nil
}

// IssueToken creates a signed token scoped to cache and op, using key.
// Used by tests; the server itself only ever verifies, never issues.
func IssueToken(key []byte, cache string, op Operation) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Cache:     cache,
		Operation: string(op),
	})
	return token.SignedString(key)
}
