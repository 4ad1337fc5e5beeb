package cache

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/btdt-ci/btdt/internal/cacheerr"
)

// RemoteCache implements Cache as an HTTP/1.1 client against a cache
// server (spec §4.4). It is a thin wrapper over net/http rather than a
// hand-rolled socket client: the spec's "minimal HTTP/1.1
// implementation" requirement (correct chunked framing, case-
// insensitive headers, unbuffered bodies) is exactly what net/http's
// client and http.Transport already guarantee, and no example repo in
// this corpus hand-rolls HTTP framing when net/http is available.
// Grounded on the teacher's backend.go for the "every op maps to one
// request, classify the response" shape.
type RemoteCache struct {
	baseURL    string
	httpClient *http.Client
	token      string
	gzip       bool
}

// RemoteCacheOption configures a RemoteCache.
type RemoteCacheOption func(*RemoteCache) error

// WithBearerTokenFile reads a bearer token from path, stripping exactly
// one trailing newline (spec §4.4: "only a single final newline —
// internal newlines remain").
func WithBearerTokenFile(path string) RemoteCacheOption {
	return func(c *RemoteCache) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return cacheerr.Wrap(cacheerr.KindIO, "read bearer token file", err)
		}
		c.token = strings.TrimSuffix(string(data), "\n")
		return nil
	}
}

// WithRootCABundle replaces the system trust store with the PEM bundle
// at path, used for https base URLs with a caller-supplied certificate
// bundle (spec §4.4).
func WithRootCABundle(path string) RemoteCacheOption {
	return func(c *RemoteCache) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return cacheerr.Wrap(cacheerr.KindIO, "read CA bundle", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return cacheerr.New(cacheerr.KindInvalidInput, "no certificates found in CA bundle: "+path)
		}
		transport := c.httpClient.Transport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
		c.httpClient.Transport = transport
		return nil
	}
}

// WithGzip enables transparent gzip compression of request/response
// bodies (SPEC_FULL §4.2 addition; opaque to the stream codec).
func WithGzip() RemoteCacheOption {
	return func(c *RemoteCache) error {
		c.gzip = true
		return nil
	}
}

// WithTimeout bounds every request issued by the client.
func WithTimeout(d time.Duration) RemoteCacheOption {
	return func(c *RemoteCache) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// NewRemoteCache creates a client against baseURL, of the form
// "http(s)://host:port/api/caches/<name>" (spec §4.4).
func NewRemoteCache(baseURL string, opts ...RemoteCacheOption) (*RemoteCache, error) {
	c := &RemoteCache{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{},
		},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *RemoteCache) newRequest(method, url string, body io.Reader, size int64) (*http.Request, error) {
	// Body compression turns a known size into an unknown one, so a gzip
	// body always falls back to chunked framing (spec §4.4: "if the
	// caller-supplied source advertises a size, use Content-Length").
	if c.gzip && body != nil {
		body = gzipPipe(body)
		size = -1
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindProtocol, "build request", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.gzip {
		req.Header.Set("Accept-Encoding", "gzip")
		if body != nil {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}
	return req, nil
}

// gzipPipe streams src through a gzip writer without buffering the
// whole payload in memory, using an io.Pipe the way the stream codec
// itself streams directory contents.
func gzipPipe(src io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		zw := gzip.NewWriter(pw)
		if _, err := io.Copy(zw, src); err != nil {
			zw.Close()
			pw.CloseWithError(err)
			return
		}
		if err := zw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr
}

// classifyStatus maps a non-2xx HTTP status to the typed failures spec
// §4.4 names: not-found, unauthorized, forbidden, remote-error.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(body))
	switch resp.StatusCode {
	case http.StatusNotFound:
		return cacheerr.New(cacheerr.KindNotFound, "remote cache entry not found")
	case http.StatusUnauthorized:
		return cacheerr.New(cacheerr.KindUnauthorized, "remote cache rejected credentials")
	case http.StatusForbidden:
		return cacheerr.New(cacheerr.KindForbidden, "remote cache denied the request")
	case http.StatusGatewayTimeout:
		return cacheerr.New(cacheerr.KindTimeout, "remote cache timed out")
	default:
		return cacheerr.New(cacheerr.KindOther, fmt.Sprintf("remote cache error: %d %s", resp.StatusCode, message))
	}
}

// Get implements Cache.
func (c *RemoteCache) Get(keys []string) (Hit, error) {
	for _, key := range keys {
		entryURL := c.baseURL + "/entries/" + url.PathEscape(key)
		req, err := c.newRequest(http.MethodGet, entryURL, nil, -1)
		if err != nil {
			return Hit{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return Hit{}, classifyNetworkError(err)
		}

		if err := classifyStatus(resp); err != nil {
			resp.Body.Close()
			if cacheerr.Is(err, cacheerr.KindNotFound) {
				continue
			}
			return Hit{}, err
		}

		if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
			zr, err := gzip.NewReader(resp.Body)
			if err != nil {
				resp.Body.Close()
				return Hit{}, cacheerr.Wrap(cacheerr.KindProtocol, "decode gzip response body", err)
			}
			return Hit{Key: key, Reader: gzipReadCloser{zr, resp.Body}, Size: -1}, nil
		}

		return Hit{Key: key, Reader: resp.Body, Size: resp.ContentLength}, nil
	}
	return Hit{}, cacheerr.ErrNotFound
}

// Set implements Cache.
func (c *RemoteCache) Set(keys []string, src io.Reader) error {
	if len(keys) == 0 {
		return cacheerr.New(cacheerr.KindInvalidInput, "set requires at least one key")
	}
	escaped := make([]string, len(keys))
	for i, key := range keys {
		escaped[i] = url.PathEscape(key)
	}
	entryURL := c.baseURL + "/entries/" + strings.Join(escaped, ",")

	size := int64(-1)
	if sizer, ok := src.(interface{ Len() int }); ok {
		size = int64(sizer.Len())
	}

	req, err := c.newRequest(http.MethodPut, entryURL, src, size)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return classifyStatus(resp)
}

// Clean is a no-op on a RemoteCache: cleanup only runs server-side
// against its own LocalCache instances (spec §4.5).
func (c *RemoteCache) Clean(maxAge *time.Duration, maxSize *int64) (CleanSummary, error) {
	return CleanSummary{}, nil
}

// gzipReadCloser closes both the gzip reader and the underlying HTTP
// body when done, since closing one does not close the other.
type gzipReadCloser struct {
	zr   *gzip.Reader
	body io.ReadCloser
}

func (g gzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g gzipReadCloser) Close() error {
	err := g.zr.Close()
	if bodyErr := g.body.Close(); err == nil {
		err = bodyErr
	}
	return err
}

func classifyNetworkError(err error) error {
	if strings.Contains(err.Error(), "timeout") || os.IsTimeout(err) {
		return cacheerr.Wrap(cacheerr.KindTimeout, "remote cache request timed out", err)
	}
	return cacheerr.Wrap(cacheerr.KindIO, "remote cache request failed", err)
}
