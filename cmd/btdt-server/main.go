// Command btdt-server exposes one or more named local caches over HTTP
// (spec.md §4.5), reading its configuration from a TOML file per
// internal/config.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/btdt-ci/btdt/internal/cache"
	"github.com/btdt-ci/btdt/internal/config"
	"github.com/btdt-ci/btdt/internal/httpapi"
	"github.com/btdt-ci/btdt/internal/humanunits"
	"github.com/btdt-ci/btdt/internal/lock"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		logger.Error("btdt-server exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to the server's TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	authKey, err := loadOrGenerateAuthKey(cfg.AuthPrivateKey)
	if err != nil {
		return fmt.Errorf("load auth key: %w", err)
	}

	caches, err := buildCaches(cfg.Caches)
	if err != nil {
		return fmt.Errorf("build caches: %w", err)
	}

	server := httpapi.NewServer(caches, httpapi.NewAuthorizer(authKey), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	interval, err := humanunits.ParseDuration(cfg.Cleanup.Interval)
	if err != nil {
		return fmt.Errorf("parse cleanup.interval: %w", err)
	}
	maxAge, err := humanunits.ParseDuration(cfg.Cleanup.CacheExpiration)
	if err != nil {
		return fmt.Errorf("parse cleanup.cache_expiration: %w", err)
	}
	maxSize, err := humanunits.ParseSize(cfg.Cleanup.MaxCacheSize)
	if err != nil {
		return fmt.Errorf("parse cleanup.max_cache_size: %w", err)
	}
	server.StartCleanup(ctx, interval, &maxAge, &maxSize)

	if cfg.TLSKeystore != "" {
		logger.Warn("tls_keystore is configured but PKCS#12 keystore loading is an external collaborator this build doesn't implement; serving plain HTTP", "tls_keystore", cfg.TLSKeystore)
	}

	return serveAll(ctx, cfg.BindAddrs, server, logger)
}

// serveAll starts one http.Server per configured bind address and waits
// for all of them to stop, either from ctx being cancelled or from the
// first listener error.
func serveAll(ctx context.Context, bindAddrs []string, handler http.Handler, logger *slog.Logger) error {
	if len(bindAddrs) == 0 {
		return errors.New("no bind_addrs configured")
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(bindAddrs))

	servers := make([]*http.Server, len(bindAddrs))
	for i, addr := range bindAddrs {
		srv := &http.Server{Addr: addr, Handler: handler}
		servers[i] = srv
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			logger.Info("listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("serve %s: %w", addr, err)
			}
		}(addr)
	}

	go func() {
		<-ctx.Done()
		for _, srv := range servers {
			_ = srv.Shutdown(context.Background())
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}
	return nil
}

func buildCaches(entries map[string]config.CacheConfig) (map[string]cache.Cache, error) {
	caches := make(map[string]cache.Cache, len(entries))
	for name, entry := range entries {
		storageCfg := cache.StorageConfig{Kind: cache.StorageKind(entry.Type), Root: entry.Path}

		var locks lock.Group
		if storageCfg.Kind == cache.StorageFilesystem {
			locks = lock.NewFileLock(entry.Path)
		} else {
			locks = lock.NewMemLock()
		}

		c, err := cache.New(context.Background(), cache.Config{Kind: cache.KindLocal, Storage: storageCfg}, locks)
		if err != nil {
			return nil, fmt.Errorf("cache %q: %w", name, err)
		}
		caches[name] = c
	}
	return caches, nil
}

// loadOrGenerateAuthKey reads the HMAC signing key at path, generating a
// random 256-bit key and writing it with mode 0600 if the file doesn't
// exist yet (spec.md §6: "auth_private_key ... generated if absent").
// An empty path disables authentication entirely.
func loadOrGenerateAuthKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate auth key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write auth key: %w", err)
	}
	return key, nil
}
