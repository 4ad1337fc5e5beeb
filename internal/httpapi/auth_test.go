package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btdt-ci/btdt/internal/cacheerr"
)

func TestAuthorizeRejectsMissingToken(t *testing.T) {
	a := NewAuthorizer([]byte("secret"))
	req := httptest.NewRequest(http.MethodGet, "/api/caches/demo/entries/k", nil)

	err := a.Authorize(req, "demo", OperationGet)
	assert.True(t, cacheerr.Is(err, cacheerr.KindUnauthorized))
}

func TestAuthorizeAcceptsValidToken(t *testing.T) {
	key := []byte("secret")
	a := NewAuthorizer(key)

	token, err := IssueToken(key, "demo", OperationGet)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/caches/demo/entries/k", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	assert.NoError(t, a.Authorize(req, "demo", OperationGet))
}

func TestAuthorizeRejectsWrongCache(t *testing.T) {
	key := []byte("secret")
	a := NewAuthorizer(key)

	token, err := IssueToken(key, "demo", OperationGet)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/caches/other/entries/k", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	err = a.Authorize(req, "other", OperationGet)
	assert.True(t, cacheerr.Is(err, cacheerr.KindForbidden))
}

func TestAuthorizeRejectsWrongOperation(t *testing.T) {
	key := []byte("secret")
	a := NewAuthorizer(key)

	token, err := IssueToken(key, "demo", OperationGet)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/caches/demo/entries/k", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	err = a.Authorize(req, "demo", OperationPut)
	assert.True(t, cacheerr.Is(err, cacheerr.KindForbidden))
}

func TestAuthorizeRejectsBadSignature(t *testing.T) {
	a := NewAuthorizer([]byte("secret"))
	token, err := IssueToken([]byte("wrong-key"), "demo", OperationGet)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/caches/demo/entries/k", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	err = a.Authorize(req, "demo", OperationGet)
	assert.True(t, cacheerr.Is(err, cacheerr.KindUnauthorized))
}
