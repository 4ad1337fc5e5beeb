package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/btdt-ci/btdt/internal/cacheerr"
	"github.com/gofrs/flock"
)

// FileLock is a Group implementation backed by github.com/gofrs/flock
// (already in the teacher's go.mod), giving mutual exclusion across
// independent btdt processes sharing one filesystem cache — something
// MemLock cannot do since it only exists within a single process. A
// LocalCache over a filesystem backend uses it to serialize its per-key
// Get (meta read and last-access update) and Set (staging plus mapping
// writes for one key set) against another btdt invocation on the same CI
// agent. Storage calls such as CleanLeftoverTmpFiles take no lock.
//
// Lock files live in dir, named by a hash of the lock key so arbitrary
// key strings can't collide with filesystem-unsafe characters.
type FileLock struct {
	dir string
}

// NewFileLock creates a FileLock that stores its advisory lock files in
// dir, which must already exist.
func NewFileLock(dir string) *FileLock {
	return &FileLock{dir: dir}
}

func (l *FileLock) lockPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:8])+".lock")
}

func (l *FileLock) DoWithLock(key string, fn func() (any, error)) (any, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, "create lock directory", err)
	}

	fl := flock.New(l.lockPath(key))
	if err := fl.Lock(); err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, "acquire file lock", err)
	}
	defer fl.Unlock()

	return fn()
}
