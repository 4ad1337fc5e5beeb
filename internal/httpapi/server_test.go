package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btdt-ci/btdt/internal/cache"
	"github.com/btdt-ci/btdt/internal/storage"
)

func testServer(t *testing.T) (*Server, []byte) {
	t.Helper()
	key := []byte("test-signing-key")
	caches := map[string]cache.Cache{
		"demo": cache.NewLocalCache(storage.NewInMemoryStorage()),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(caches, NewAuthorizer(key), logger), key
}

func authHeader(t *testing.T, key []byte, cacheName string, op Operation) string {
	t.Helper()
	token, err := IssueToken(key, cacheName, op)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestServerHealthOK(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerPutThenGetRoundtrip(t *testing.T) {
	s, key := testServer(t)

	putReq := httptest.NewRequest(http.MethodPut, "/api/caches/demo/entries/build-1", strings.NewReader("payload"))
	putReq.Header.Set("Authorization", authHeader(t, key, "demo", OperationPut))
	putRec := httptest.NewRecorder()
	s.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusCreated, putRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/caches/demo/entries/build-1", nil)
	getReq.Header.Set("Authorization", authHeader(t, key, "demo", OperationGet))
	getRec := httptest.NewRecorder()
	s.ServeHTTP(getRec, getReq)

	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "payload", getRec.Body.String())
}

func TestServerGetMissingKeyReturns404(t *testing.T) {
	s, key := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/caches/demo/entries/nope", nil)
	req.Header.Set("Authorization", authHeader(t, key, "demo", OperationGet))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerUnknownCacheReturns404(t *testing.T) {
	s, key := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/caches/bogus/entries/k", nil)
	req.Header.Set("Authorization", authHeader(t, key, "bogus", OperationGet))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerGetWithoutTokenReturns401(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/caches/demo/entries/k", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerPutWithWrongScopeReturns403(t *testing.T) {
	s, key := testServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/caches/demo/entries/k", strings.NewReader("x"))
	req.Header.Set("Authorization", authHeader(t, key, "demo", OperationGet))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServerPutAcceptsCommaSeparatedKeys(t *testing.T) {
	s, key := testServer(t)

	putReq := httptest.NewRequest(http.MethodPut, "/api/caches/demo/entries/a,b,c", strings.NewReader("shared"))
	putReq.Header.Set("Authorization", authHeader(t, key, "demo", OperationPut))
	putRec := httptest.NewRecorder()
	s.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusCreated, putRec.Code)

	for _, k := range []string{"a", "b", "c"} {
		getReq := httptest.NewRequest(http.MethodGet, "/api/caches/demo/entries/"+k, nil)
		getReq.Header.Set("Authorization", authHeader(t, key, "demo", OperationGet))
		getRec := httptest.NewRecorder()
		s.ServeHTTP(getRec, getReq)
		require.Equal(t, http.StatusOK, getRec.Code, "key %s", k)
		assert.Equal(t, "shared", getRec.Body.String())
	}
}
