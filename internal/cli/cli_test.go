package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixtureTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "c"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b.txt"), []byte("hello"), 0o644))
}

func TestCLIStoreThenRestoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFixtureTree(t, src)
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))

	var stdout, stderr bytes.Buffer
	rc := Run([]string{"store", "--cache", cacheDir, "--keys", "k1", src}, &stdout, &stderr)
	require.Equal(t, ExitSuccess, rc, stderr.String())

	stdout.Reset()
	stderr.Reset()
	rc = Run([]string{"restore", "--cache", cacheDir, "--keys", "k1", dst}, &stdout, &stderr)
	assert.Equal(t, ExitSuccess, rc, stderr.String())

	contents, err := os.ReadFile(filepath.Join(dst, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))
}

func TestCLIRestoreFallbackKeyReturnsExit3(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFixtureTree(t, src)
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))

	var stdout, stderr bytes.Buffer
	require.Equal(t, ExitSuccess, Run([]string{"store", "--cache", cacheDir, "--keys", "k1", src}, &stdout, &stderr))

	stdout.Reset()
	rc := Run([]string{"restore", "--cache", cacheDir, "--keys", "kX,k1", dst}, &stdout, &stderr)
	assert.Equal(t, ExitFallbackKey, rc)
}

func TestCLIRestoreFallbackKeyCollapsesWithSuccessFlag(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFixtureTree(t, src)
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))

	var stdout, stderr bytes.Buffer
	require.Equal(t, ExitSuccess, Run([]string{"store", "--cache", cacheDir, "--keys", "k1", src}, &stdout, &stderr))

	rc := Run([]string{"restore", "--cache", cacheDir, "--keys", "kX,k1", "--success-rc-on-any-key", dst}, &stdout, &stderr)
	assert.Equal(t, ExitSuccess, rc)
}

func TestCLIRestoreMissReturnsExit4(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))

	var stdout, stderr bytes.Buffer
	rc := Run([]string{"restore", "--cache", cacheDir, "--keys", "kY,kZ", dst}, &stdout, &stderr)
	assert.Equal(t, ExitMiss, rc)
}

func TestCLIInvalidInvocationReturnsExit2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rc := Run([]string{"restore", "--cache", ""}, &stdout, &stderr)
	assert.Equal(t, ExitInvalidInvocation, rc)
}

func TestCLIUnknownSubcommandReturnsExit2(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rc := Run([]string{"bogus"}, &stdout, &stderr)
	assert.Equal(t, ExitInvalidInvocation, rc)
}

func TestCLIHashPrintsDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	var stdout, stderr bytes.Buffer
	rc := Run([]string{"hash", path}, &stdout, &stderr)
	require.Equal(t, ExitSuccess, rc, stderr.String())
	assert.Contains(t, stdout.String(), "blake2b-256:")
}

func TestCLICleanRunsAgainstCache(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	writeFixtureTree(t, src)

	var stdout, stderr bytes.Buffer
	require.Equal(t, ExitSuccess, Run([]string{"store", "--cache", cacheDir, "--keys", "k1", src}, &stdout, &stderr))

	stdout.Reset()
	rc := Run([]string{"clean", "--cache", cacheDir, "--max-age", "0s"}, &stdout, &stderr)
	assert.Equal(t, ExitSuccess, rc, stderr.String())
	assert.Contains(t, stdout.String(), "Deleted")
}
