package cli

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/btdt-ci/btdt/internal/cache"
	"github.com/btdt-ci/btdt/internal/cacheerr"
	"github.com/btdt-ci/btdt/internal/lock"
)

// remoteOpts carries the remote-cache flags that only apply when <loc>
// resolves to an http(s) URL (spec.md §6: "--auth-token-file f",
// "--root-cert f").
type remoteOpts struct {
	authTokenFile string
	rootCertFile  string
	gzip          bool
}

// resolveLoc turns the CLI's <loc> argument into a cache.Config and a
// lock.Group, per spec.md §6: "<loc> is a directory path or an
// http(s)://…/api/caches/<name> URL."
func resolveLoc(loc string, opts remoteOpts) (cache.Config, lock.Group, error) {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		cfg := cache.Config{
			Kind:          cache.KindRemote,
			RemoteBaseURL: loc,
			RemoteGzip:    opts.gzip,
		}
		if opts.authTokenFile != "" {
			cfg.RemoteTokenFile = opts.authTokenFile
		}
		if opts.rootCertFile != "" {
			cfg.RemoteCABundle = opts.rootCertFile
		}
		if _, err := url.Parse(loc); err != nil {
			return cache.Config{}, nil, cacheerr.Wrap(cacheerr.KindInvalidInput, "invalid cache URL "+loc, err)
		}
		return cfg, nil, nil
	}

	abs, err := filepath.Abs(loc)
	if err != nil {
		return cache.Config{}, nil, cacheerr.Wrap(cacheerr.KindInvalidInput, "resolve cache path "+loc, err)
	}
	cfg := cache.Config{
		Kind: cache.KindLocal,
		Storage: cache.StorageConfig{
			Kind: cache.StorageFilesystem,
			Root: abs,
		},
	}
	return cfg, lock.NewFileLock(filepath.Join(abs, ".locks")), nil
}
