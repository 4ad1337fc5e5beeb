package storage

import (
	"bytes"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/btdt-ci/btdt/internal/cacheerr"
)

// InMemoryStorage is a process-wide Storage realization guarded by a
// single RWMutex, used for tests and for the server's InMemory cache
// config (spec §4.1, §9: "explicitly not performance-optimized").
//
// Grounded on original_source/btdt/src/storage/in_memory.rs for the
// read/write/remove shape; the directory tree itself isn't modeled
// explicitly (there's no on-disk analogue to synthesize) — List derives
// synthetic directory entries from the path segments of stored files,
// which is all the cache's entries/keys sharding needs.
type InMemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	data       []byte
	lastAccess time.Time
}

// NewInMemoryStorage creates an empty in-memory storage backend.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{entries: make(map[string]*memEntry)}
}

func normalize(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func (s *InMemoryStorage) Exists(p string) (bool, error) {
	p = normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[p]
	return ok, nil
}

func (s *InMemoryStorage) Open(p string) (io.ReadCloser, int64, error) {
	p = normalize(p)
	s.mu.Lock()
	e, ok := s.entries[p]
	if !ok {
		s.mu.Unlock()
		return nil, 0, cacheerr.New(cacheerr.KindNotFound, "not found: "+p)
	}
	e.lastAccess = time.Now()
	// Copy the slice header, not the backing array: a concurrent Remove
	// only drops this map entry, it never mutates e.data, so the reader
	// keeps a perfectly valid, ref-counted-by-GC snapshot.
	data := e.data
	s.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *InMemoryStorage) Create(p string) (WriteCloser, error) {
	p = normalize(p)
	return &memWriter{storage: s, path: p, buf: &bytes.Buffer{}}, nil
}

func (s *InMemoryStorage) Remove(p string) error {
	p = normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[p]; !ok {
		return cacheerr.New(cacheerr.KindNotFound, "not found: "+p)
	}
	delete(s.entries, p)
	return nil
}

func (s *InMemoryStorage) List(prefix string) ([]Entry, error) {
	prefix = normalize(prefix)
	base := prefix
	if base != "/" {
		base += "/"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]Entry)
	for p, e := range s.entries {
		if !strings.HasPrefix(p, base) {
			continue
		}
		rest := p[len(base):]
		if rest == "" {
			continue
		}
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			name := rest[:idx]
			seen[name] = Entry{Name: name, Type: EntryDir}
		} else {
			seen[rest] = Entry{Name: rest, Type: EntryFile, Size: int64(len(e.data))}
		}
	}

	out := make([]Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStorage) Stat(p string) (Info, error) {
	p = normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[p]
	if !ok {
		return Info{}, cacheerr.New(cacheerr.KindNotFound, "not found: "+p)
	}
	return Info{Size: int64(len(e.data)), LastAccess: e.lastAccess}, nil
}

func (s *InMemoryStorage) Touch(p string) error {
	p = normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	if !ok {
		return cacheerr.New(cacheerr.KindNotFound, "not found: "+p)
	}
	e.lastAccess = time.Now()
	return nil
}

// memWriter buffers writes and only publishes them to the storage map on
// Close, giving the same atomic-commit semantics as a staged-file rename.
type memWriter struct {
	storage *InMemoryStorage
	path    string
	buf     *bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.storage.mu.Lock()
	defer w.storage.mu.Unlock()
	w.storage.entries[w.path] = &memEntry{data: w.buf.Bytes(), lastAccess: time.Now()}
	return nil
}
