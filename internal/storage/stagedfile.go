package storage

import (
	"os"
	"path/filepath"

	"github.com/btdt-ci/btdt/internal/cacheerr"
	"github.com/rs/xid"
)

// stagingDirName is the hidden subtree writers stage into before the
// atomic rename that publishes them (spec §6 on-disk layout: "tmp/<random>").
const stagingDirName = "tmp"

// stagedFile writes to a temporary file in the storage root's tmp/
// subdirectory and only renames it into place on Close, giving the
// rename(2)-atomic commit semantics spec §4.1 requires of Storage.Create.
// If Close is never called (or the process is killed), the staging file
// is simply leftover garbage in tmp/ until CleanLeftoverTmpFiles is
// called; nothing in this module calls it automatically.
//
// Grounded on original_source/btdt/src/storage/filesystem/staged_file.rs
// (temp-then-rename) and the teacher's localcache.go write() (same
// pattern, one level up). Staging names use rs/xid instead of a ".tmp"
// suffix or os.CreateTemp's own counter: short, sortable, and
// collision-resistant across many concurrent btdt processes on one
// filesystem (grounded on cyverse-irodsfs-common's use of rs/xid).
type stagedFile struct {
	root      string
	finalPath string
	tmpPath   string
	f         *os.File
	closed    bool
}

func newStagedFile(root, finalPath string) (*stagedFile, error) {
	tmpDir := filepath.Join(root, stagingDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, "create staging directory", err)
	}
	tmpPath := filepath.Join(tmpDir, xid.New().String())
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, "create staging file", err)
	}
	return &stagedFile{root: root, finalPath: finalPath, tmpPath: tmpPath, f: f}, nil
}

func (s *stagedFile) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		return n, cacheerr.Wrap(cacheerr.KindIO, "write staging file", err)
	}
	return n, nil
}

// Close fsyncs and renames the staging file into its final path,
// committing it atomically. If any step fails, the staging file is
// removed and no trace of the write remains at finalPath.
func (s *stagedFile) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.f.Sync(); err != nil {
		s.abandon()
		return cacheerr.Wrap(cacheerr.KindIO, "sync staging file", err)
	}
	if err := s.f.Close(); err != nil {
		s.abandon()
		return cacheerr.Wrap(cacheerr.KindIO, "close staging file", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.finalPath), 0o755); err != nil {
		s.abandon()
		return cacheerr.Wrap(cacheerr.KindIO, "create parent directory", err)
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		s.abandon()
		return cacheerr.Wrap(cacheerr.KindIO, "rename into place", err)
	}
	return nil
}

// abandon removes the staging file, used whenever Close fails partway
// through, or the caller drops the writer without closing it.
func (s *stagedFile) abandon() {
	_ = s.f.Close()
	_ = os.Remove(s.tmpPath)
}

// cleanLeftoverTmpFiles removes stale staging files left behind by a
// process that was killed before it could rename or abandon them.
// Grounded on FilesystemStorage::clean_leftover_tmp_files in
// original_source/btdt/src/storage/filesystem.rs.
func cleanLeftoverTmpFiles(root string) error {
	tmpDir := filepath.Join(root, stagingDirName)
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cacheerr.Wrap(cacheerr.KindIO, "list staging directory", err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(tmpDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return cacheerr.Wrap(cacheerr.KindIO, "remove leftover staging file", err)
		}
	}
	return nil
}
