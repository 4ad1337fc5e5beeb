// Package cli implements the btdt orchestrator's command-line surface
// (spec.md §4.6/§6): hash/restore/store/clean subcommands dispatching
// against whichever Cache a <loc> argument resolves to. Grounded on
// original_source/btdt-cli/src/main.rs for the subcommand shape and
// exit-code semantics; built on the standard library's flag package
// rather than a CLI framework since no example repo in this pack
// actually builds subcommand dispatch with one (see DESIGN.md).
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/btdt-ci/btdt/internal/cache"
	"github.com/btdt-ci/btdt/internal/cacheerr"
	"github.com/btdt-ci/btdt/internal/cachehash"
	"github.com/btdt-ci/btdt/internal/humanunits"
	"github.com/btdt-ci/btdt/internal/pipeline"
)

// Exit codes per spec.md §4.6.
const (
	ExitSuccess           = 0
	ExitError             = 1
	ExitInvalidInvocation = 2
	ExitFallbackKey       = 3
	ExitMiss              = 4
)

// Run parses args (excluding the program name) and executes the named
// subcommand, writing diagnostics to stderr and results to stdout.
// Returns a process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: btdt <hash|restore|store|clean> ...")
		return ExitInvalidInvocation
	}

	sub := args[0]
	rest := args[1:]
	switch sub {
	case "hash":
		return runHash(rest, stdout, stderr)
	case "restore":
		return runRestore(rest, stdout, stderr)
	case "store":
		return runStore(rest, stdout, stderr)
	case "clean":
		return runClean(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand: %s\n", sub)
		return ExitInvalidInvocation
	}
}

func runHash(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return ExitInvalidInvocation
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: btdt hash <path>")
		return ExitInvalidInvocation
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}
	defer f.Close()

	h := cachehash.NewHasher()
	if _, err := io.Copy(h, f); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}
	fmt.Fprintln(stdout, h.Digest().String())
	return ExitSuccess
}

// keysRef holds the shared --cache/--keys flags for restore and store.
type keysRef struct {
	cache         string
	keys          string
	authTokenFile string
	rootCertFile  string
	gzip          bool
}

func (r *keysRef) register(fs *flag.FlagSet) {
	fs.StringVar(&r.cache, "cache", "", "cache location: a directory path or an http(s)://.../api/caches/<name> URL")
	fs.StringVar(&r.keys, "keys", "", "comma-separated cache keys")
	fs.StringVar(&r.authTokenFile, "auth-token-file", "", "file containing the bearer token for a remote cache")
	fs.StringVar(&r.rootCertFile, "root-cert", "", "PEM bundle of root certificates trusted for a remote cache, replacing the system trust store")
	fs.BoolVar(&r.gzip, "gzip", false, "gzip-compress request/response bodies against a remote cache")
}

func (r *keysRef) splitKeys() []string {
	var keys []string
	for _, k := range strings.Split(r.keys, ",") {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (r *keysRef) toPipeline() (*pipeline.Pipeline, error) {
	cfg, locks, err := resolveLoc(r.cache, remoteOpts{
		authTokenFile: r.authTokenFile,
		rootCertFile:  r.rootCertFile,
		gzip:          r.gzip,
	})
	if err != nil {
		return nil, err
	}
	c, err := cache.New(context.Background(), cfg, locks)
	if err != nil {
		return nil, err
	}
	return pipeline.New(c), nil
}

func runRestore(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var ref keysRef
	ref.register(fs)
	var successOnAnyKey bool
	fs.BoolVar(&successOnAnyKey, "success-rc-on-any-key", false, "exit 0 whenever any key is found, not just the primary one")
	if err := fs.Parse(args); err != nil {
		return ExitInvalidInvocation
	}
	if fs.NArg() != 1 || ref.cache == "" || ref.keys == "" {
		fmt.Fprintln(stderr, "usage: btdt restore --cache <loc> --keys <csv> [--success-rc-on-any-key] <dest>")
		return ExitInvalidInvocation
	}
	dest := fs.Arg(0)
	keys := ref.splitKeys()
	if len(keys) == 0 {
		fmt.Fprintln(stderr, "--keys must not be empty")
		return ExitInvalidInvocation
	}

	p, err := ref.toPipeline()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}

	result, err := p.Restore(keys, dest)
	if err != nil {
		if cacheerr.Is(err, cacheerr.KindNotFound) {
			fmt.Fprintln(stderr, "Keys not found in cache.")
			return ExitMiss
		}
		fmt.Fprintln(stderr, err)
		return ExitError
	}

	fmt.Fprintf(stdout, "Restored key %s\n", result.Key)
	if result.Fallback && !successOnAnyKey {
		return ExitFallbackKey
	}
	return ExitSuccess
}

func runStore(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("store", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var ref keysRef
	ref.register(fs)
	if err := fs.Parse(args); err != nil {
		return ExitInvalidInvocation
	}
	if fs.NArg() != 1 || ref.cache == "" || ref.keys == "" {
		fmt.Fprintln(stderr, "usage: btdt store --cache <loc> --keys <csv> <src>")
		return ExitInvalidInvocation
	}
	src := fs.Arg(0)
	keys := ref.splitKeys()
	if len(keys) == 0 {
		fmt.Fprintln(stderr, "--keys must not be empty")
		return ExitInvalidInvocation
	}

	p, err := ref.toPipeline()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}

	if err := p.Store(keys, src); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}
	return ExitSuccess
}

func runClean(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cacheLoc string
	var maxAgeStr, maxSizeStr string
	fs.StringVar(&cacheLoc, "cache", "", "cache location: a directory path or an http(s)://.../api/caches/<name> URL")
	fs.StringVar(&maxAgeStr, "max-age", "", "maximum age of last access before entries are deleted, e.g. 7d")
	fs.StringVar(&maxSizeStr, "max-size", "", "maximum total cache size before entries are deleted, e.g. 1GiB")
	if err := fs.Parse(args); err != nil {
		return ExitInvalidInvocation
	}
	if cacheLoc == "" {
		fmt.Fprintln(stderr, "usage: btdt clean --cache <loc> [--max-age D] [--max-size S]")
		return ExitInvalidInvocation
	}

	var maxAge *time.Duration
	if maxAgeStr != "" {
		d, err := humanunits.ParseDuration(maxAgeStr)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return ExitInvalidInvocation
		}
		maxAge = &d
	}
	var maxSize *int64
	if maxSizeStr != "" {
		s, err := humanunits.ParseSize(maxSizeStr)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return ExitInvalidInvocation
		}
		maxSize = &s
	}

	cfg, locks, err := resolveLoc(cacheLoc, remoteOpts{})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}
	c, err := cache.New(context.Background(), cfg, locks)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}

	summary, err := c.Clean(maxAge, maxSize)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitError
	}

	fmt.Fprintf(stdout, "Deleted %d mappings, %d entries, freed %s\n",
		summary.MappingsDeleted, summary.EntriesDeleted, humanunits.FormatSize(summary.BytesFreed))
	return ExitSuccess
}
