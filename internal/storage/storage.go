// Package storage defines the low-level blob+directory abstraction
// every cache backend is built on (spec §4.1): exists, open_read,
// open_write, remove, list, stat, touch. Implementations are the
// cache's exclusive subtree owners; callers never reach past Storage
// into the underlying medium directly.
package storage

import (
	"io"
	"time"
)

// EntryType distinguishes files from directories when listing.
type EntryType int

const (
	// EntryFile is a regular file.
	EntryFile EntryType = iota
	// EntryDir is a directory.
	EntryDir
)

// Entry describes one child returned by List.
type Entry struct {
	Name string
	Type EntryType
	Size int64
}

// Info is what Stat returns: size and last-access time.
type Info struct {
	Size       int64
	LastAccess time.Time
}

// WriteCloser is returned by Create. The write is only made visible —
// atomically — when Close succeeds; if the caller abandons the writer
// without closing it (or Close returns an error), no trace remains
// (spec §4.1: "if the caller drops it without committing, no trace
// remains").
type WriteCloser interface {
	io.Writer
	io.Closer
}

// Storage is a thread-safe namespace of logical, '/'-separated paths.
// All operations may be invoked concurrently from many callers; interior
// synchronization is the backend's concern (spec §4.1).
type Storage interface {
	// Exists reports whether path names an existing file.
	Exists(path string) (bool, error)

	// Open returns a reader for the file at path and its size, or a
	// cacheerr KindNotFound error if it doesn't exist.
	Open(path string) (io.ReadCloser, int64, error)

	// Create returns a sink for path with atomic-commit semantics: the
	// data is only visible at path once Close succeeds.
	Create(path string) (WriteCloser, error)

	// Remove deletes the file at path.
	Remove(path string) error

	// List returns the direct children of the directory at prefix. The
	// prefix itself is not included. Returns an empty slice (not an
	// error) if prefix doesn't exist.
	List(prefix string) ([]Entry, error)

	// Stat returns size and last-access time for the file at path.
	Stat(path string) (Info, error)

	// Touch refreshes the last-access time of the file at path.
	Touch(path string) error
}
