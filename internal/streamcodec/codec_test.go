package streamcodec

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btdt-ci/btdt/internal/cacheerr"
)

// writeTree builds a non-trivial fixture where a file name sorts after a
// sibling directory name (z.txt next to a/), the exact shape that trips
// up an encoder emitting all files before all subdirectories.
func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "nested"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "z.txt"), []byte("last file, first byte range"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "one.txt"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "nested", "two.txt"), []byte("two"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.sh"), []byte("#!/bin/sh\n"), 0o755))
}

func TestRoundtripInterleavedFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeTree(t, src)
	require.NoError(t, os.MkdirAll(dst, 0o755))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src))
	require.NoError(t, Decode(&buf, dst))

	contents, err := os.ReadFile(filepath.Join(dst, "z.txt"))
	require.NoError(t, err)
	assert.Equal(t, "last file, first byte range", string(contents))

	contents, err = os.ReadFile(filepath.Join(dst, "a", "nested", "two.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(contents))

	info, err := os.Stat(filepath.Join(dst, "empty"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRoundtripPreservesModeBits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permission bits aren't meaningful on windows")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "exec.sh"), []byte("x"), 0o750))
	require.NoError(t, os.MkdirAll(dst, 0o755))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src))
	require.NoError(t, Decode(&buf, dst))

	info, err := os.Stat(filepath.Join(dst, "exec.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
}

func TestRoundtripEmptyDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(dst, 0o755))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src))
	require.NoError(t, Decode(&buf, dst))

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEncodeRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "real.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link.txt")))

	err := Encode(&bytes.Buffer{}, src)
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.KindInvalidInput))
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.MkdirAll(dst, 0o755))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src))

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-4])
	err := Decode(truncated, dst)
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.KindProtocol))
}

func TestDecodeRejectsPathEscape(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	// writeHeader itself validates the path, so bypass it and write the
	// raw record fields directly to get an unsafe path onto the wire.
	require.NoError(t, writeByte(bw, recordDir))
	require.NoError(t, writeUint32(bw, 0o755))
	unsafe := []byte("../escape")
	require.NoError(t, writeUint32(bw, uint32(len(unsafe))))
	_, err := bw.Write(unsafe)
	require.NoError(t, err)
	require.NoError(t, writeByte(bw, recordEnd))
	require.NoError(t, bw.Flush())

	err = Decode(&buf, t.TempDir())
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.KindProtocol))
}

func TestDecodeRejectsOutOfOrderRecords(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.MkdirAll(dst, 0o755))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src))

	// Encode's own output is in strictly increasing order (a.txt, b.txt);
	// hand-build a stream that presents them reversed instead.
	var reversed bytes.Buffer
	bw := bufio.NewWriter(&reversed)
	require.NoError(t, writeHeader(bw, recordFile, 0o644, "b.txt"))
	require.NoError(t, writeUint64(bw, 1))
	_, err := bw.Write([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, writeHeader(bw, recordFile, 0o644, "a.txt"))
	require.NoError(t, writeUint64(bw, 1))
	_, err = bw.Write([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, writeByte(bw, recordEnd))
	require.NoError(t, bw.Flush())

	err = Decode(&reversed, dst)
	require.Error(t, err)
	assert.True(t, cacheerr.Is(err, cacheerr.KindProtocol))
}
