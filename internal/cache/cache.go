// Package cache implements the local and remote cache variants of spec
// §4.3/§4.4: mapping cache keys to content-addressed entries, either
// against a local storage.Storage or against a remote HTTP cache server.
package cache

import (
	"io"
	"time"
)

// Hit is returned by a successful Get.
type Hit struct {
	// Key is the cache key that was actually matched. It may differ from
	// the first key the caller asked for (spec: "fallback key").
	Key string

	// Reader streams the decoded contents of the matched entry. Callers
	// must Close it.
	Reader io.ReadCloser

	// Size is the byte length of the encoded stream, when known.
	Size int64

	// Fallback marks a Key that was not the first key tried. The caches
	// never set it; the orchestrator reports this through
	// pipeline.RestoreResult.Fallback instead.
	Fallback bool
}

// CleanSummary reports the outcome of a Clean call.
type CleanSummary struct {
	MappingsDeleted int
	EntriesDeleted  int
	BytesFreed      int64
}

// Cache maps cache keys to content-addressed entries (spec §4.3/§4.4).
// LocalCache and RemoteCache both implement it; the orchestrator treats
// them interchangeably (spec §9: "polymorphic cache").
type Cache interface {
	// Get returns the entry for the first of keys that exists, or a
	// cacheerr KindNotFound error if none do.
	Get(keys []string) (Hit, error)

	// Set streams src into a new entry and points every key at it.
	Set(keys []string, src io.Reader) error

	// Clean evicts entries by age and/or total size. maxAge and maxSize
	// are pointers so nil means "no limit" (spec §4.3). Clean on a
	// RemoteCache is a no-op: cleanup only runs on the server (spec §9).
	Clean(maxAge *time.Duration, maxSize *int64) (CleanSummary, error)
}
