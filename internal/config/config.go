// Package config loads the btdt-server TOML configuration (spec.md §6),
// with BTDT_-prefixed environment variable overrides. Grounded on
// original_source/btdt-server/src/config.rs for the key set and
// defaults, reimplemented with github.com/BurntSushi/toml (already in
// the teacher's go.mod) instead of the original's `config` crate, since
// env-var overlaying there is a thin layer this package reproduces by
// hand rather than a feature BurntSushi/toml itself needs to provide.
package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/btdt-ci/btdt/internal/cacheerr"
)

// CacheConfig is one entry of the [caches] table.
type CacheConfig struct {
	Type string `toml:"type"` // "Filesystem" or "InMemory"
	Path string `toml:"path"` // Filesystem only
}

// CleanupConfig is the [cleanup] table.
type CleanupConfig struct {
	Interval        string `toml:"interval"`
	CacheExpiration string `toml:"cache_expiration"`
	MaxCacheSize    string `toml:"max_cache_size"`
}

// ServerConfig is the full btdt-server configuration (spec.md §6).
type ServerConfig struct {
	BindAddrs           []string               `toml:"bind_addrs"`
	EnableAPIDocs       bool                   `toml:"enable_api_docs"`
	TLSKeystore         string                 `toml:"tls_keystore"`
	TLSKeystorePassword string                 `toml:"tls_keystore_password"`
	AuthPrivateKey      string                 `toml:"auth_private_key"`
	Cleanup             CleanupConfig          `toml:"cleanup"`
	Caches              map[string]CacheConfig `toml:"caches"`
}

// Defaults returns the configuration's zero-value defaults, matching
// original_source/btdt-server/src/config.rs's set_default calls.
func Defaults() ServerConfig {
	return ServerConfig{
		BindAddrs:     []string{"0.0.0.0:8707"},
		EnableAPIDocs: true,
		Cleanup: CleanupConfig{
			Interval:        "10min",
			CacheExpiration: "7days",
			MaxCacheSize:    "50GiB",
		},
		Caches: map[string]CacheConfig{},
	}
}

// Load reads configFile (if it exists) over Defaults(), then applies
// BTDT_-prefixed environment overrides. configFile may be empty, in
// which case only defaults and environment overrides apply.
func Load(configFile string) (ServerConfig, error) {
	cfg := Defaults()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if _, err := toml.DecodeFile(configFile, &cfg); err != nil {
				return ServerConfig{}, cacheerr.Wrap(cacheerr.KindInvalidInput, "parse config file "+configFile, err)
			}
		} else if !os.IsNotExist(err) {
			return ServerConfig{}, cacheerr.Wrap(cacheerr.KindIO, "stat config file "+configFile, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides applies BTDT_-prefixed, double-underscore-nested
// environment variables over cfg's scalar and bind_addrs fields (spec.md
// §6: "Environment overrides use the prefix BTDT_ and double-underscore
// for nesting").
func applyEnvOverrides(cfg *ServerConfig) {
	if v, ok := os.LookupEnv("BTDT_BIND_ADDRS"); ok {
		cfg.BindAddrs = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("BTDT_ENABLE_API_DOCS"); ok {
		cfg.EnableAPIDocs = v == "true" || v == "1"
	}
	if v, ok := os.LookupEnv("BTDT_TLS_KEYSTORE"); ok {
		cfg.TLSKeystore = v
	}
	if v, ok := os.LookupEnv("BTDT_TLS_KEYSTORE_PASSWORD"); ok {
		cfg.TLSKeystorePassword = v
	}
	if v, ok := os.LookupEnv("BTDT_AUTH_PRIVATE_KEY"); ok {
		cfg.AuthPrivateKey = v
	}
	if v, ok := os.LookupEnv("BTDT_CLEANUP__INTERVAL"); ok {
		cfg.Cleanup.Interval = v
	}
	if v, ok := os.LookupEnv("BTDT_CLEANUP__CACHE_EXPIRATION"); ok {
		cfg.Cleanup.CacheExpiration = v
	}
	if v, ok := os.LookupEnv("BTDT_CLEANUP__MAX_CACHE_SIZE"); ok {
		cfg.Cleanup.MaxCacheSize = v
	}
}
