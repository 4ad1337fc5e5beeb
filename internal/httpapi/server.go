package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/btdt-ci/btdt/internal/cache"
	"github.com/btdt-ci/btdt/internal/cacheerr"
	"github.com/btdt-ci/btdt/internal/metrics"
)

// Server is the cache server's HTTP surface (spec.md §4.5): health
// check plus per-cache GET/PUT of content-addressed entries, backed by
// one cache.Cache per configured name. Grounded on the teacher's own
// slog-based logging conventions; net/http is used directly rather than
// a router framework since no such framework dependency appears
// anywhere in this repo's example pack (see DESIGN.md).
type Server struct {
	caches  map[string]cache.Cache
	auth    *Authorizer
	logger  *slog.Logger
	latency *metrics.LatencyTracker
	cleanup *cleanupScheduler
	mux     *http.ServeMux
}

// NewServer wires caches, an Authorizer, and a logger into a Server
// ready to be handed to http.Server as its Handler.
func NewServer(caches map[string]cache.Cache, auth *Authorizer, logger *slog.Logger) *Server {
	s := &Server{
		caches:  caches,
		auth:    auth,
		logger:  logger,
		latency: metrics.NewLatencyTracker(0.01),
	}
	s.cleanup = newCleanupScheduler(caches, logger)
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/caches/{name}/entries/{key}", s.handleGet)
	s.mux.HandleFunc("PUT /api/caches/{name}/entries/{keys}", s.handlePut)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// StartCleanup launches the background cleanup scheduler (spec.md
// §4.5: "A background scheduler fires clean on every configured cache
// every cleanup.interval"). Cancel ctx to stop it; an in-progress
// cleanup is allowed to finish its current cache before returning.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration, maxAge *time.Duration, maxSize *int64) {
	s.cleanup.start(ctx, interval, maxAge, maxSize)
}

// healthProbeKey is looked up against every configured cache on a
// health check. A not-found response means the backing storage is
// reachable; any other error means it isn't.
const healthProbeKey = "\x00btdt-health-probe"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	for name, c := range s.caches {
		if _, err := c.Get([]string{healthProbeKey}); err != nil && !cacheerr.Is(err, cacheerr.KindNotFound) {
			s.logger.Error("health check failed", "cache", name, "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) cacheByName(w http.ResponseWriter, r *http.Request) (cache.Cache, string, bool) {
	name := r.PathValue("name")
	c, ok := s.caches[name]
	if !ok {
		s.writeError(w, "", cacheerr.New(cacheerr.KindNotFound, "no such cache: "+name))
		return nil, "", false
	}
	return c, name, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	requestID := xid.New().String()
	c, name, ok := s.cacheByName(w, r)
	if !ok {
		return
	}

	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil {
		s.writeError(w, requestID, cacheerr.New(cacheerr.KindInvalidInput, "bad key encoding"))
		return
	}

	if err := s.auth.Authorize(r, name, OperationGet); err != nil {
		s.writeError(w, requestID, err)
		return
	}

	var hit cache.Hit
	err = s.latency.RecordFunc(metrics.OpServerGet, func() error {
		var getErr error
		hit, getErr = c.Get([]string{key})
		return getErr
	})
	if err != nil {
		s.writeError(w, requestID, err)
		return
	}
	defer hit.Reader.Close()

	if hit.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(hit.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, hit.Reader); err != nil {
		s.logger.Error("error streaming response body", "request_id", requestID, "error", err)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	requestID := xid.New().String()
	c, name, ok := s.cacheByName(w, r)
	if !ok {
		return
	}

	rawKeys, err := url.PathUnescape(r.PathValue("keys"))
	if err != nil {
		s.writeError(w, requestID, cacheerr.New(cacheerr.KindInvalidInput, "bad key encoding"))
		return
	}
	keys := strings.Split(rawKeys, ",")

	if err := s.auth.Authorize(r, name, OperationPut); err != nil {
		// Authorization failures after bytes might already be in flight
		// still abort cleanly by draining and discarding (spec.md §4.5).
		_, _ = io.Copy(io.Discard, r.Body)
		s.writeError(w, requestID, err)
		return
	}

	err = s.latency.RecordFunc(metrics.OpServerPut, func() error {
		return c.Set(keys, r.Body)
	})
	if err != nil {
		s.writeError(w, requestID, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// writeError maps a cacheerr.Kind to the HTTP status spec.md §7
// requires, logging the detail server-side with a request id instead
// of leaking it in the response body.
func (s *Server) writeError(w http.ResponseWriter, requestID string, err error) {
	status := http.StatusInternalServerError
	switch cacheerr.KindOf(err) {
	case cacheerr.KindNotFound:
		status = http.StatusNotFound
	case cacheerr.KindUnauthorized:
		status = http.StatusUnauthorized
	case cacheerr.KindForbidden:
		status = http.StatusForbidden
	case cacheerr.KindInvalidInput:
		status = http.StatusBadRequest
	case cacheerr.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", requestID, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
