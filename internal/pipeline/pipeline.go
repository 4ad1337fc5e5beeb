// Package pipeline implements the orchestrator (spec.md §4.6): it
// reconciles a restore/store/clean request against whichever Cache
// implementation is configured, encoding and decoding directory trees
// through streamcodec instead of the original source's tar archive.
// Grounded on original_source/btdt/src/pipeline.rs for the overall
// Restore/Store/into-cache shape.
package pipeline

import (
	"io"
	"time"

	"github.com/btdt-ci/btdt/internal/cache"
	"github.com/btdt-ci/btdt/internal/streamcodec"
)

// Pipeline couples a Cache with the directory-tree codec used to store
// and restore its entries.
type Pipeline struct {
	cache cache.Cache
}

// New creates a Pipeline backed by c.
func New(c cache.Cache) *Pipeline {
	return &Pipeline{cache: c}
}

// Cache returns the underlying cache.
func (p *Pipeline) Cache() cache.Cache {
	return p.cache
}

// RestoreResult reports which key, if any, restored the tree.
type RestoreResult struct {
	// Key is the cache key that was matched. Empty if nothing matched.
	Key string
	// Fallback is true when Key was not the first key in keys.
	Fallback bool
	// Hit is false when no key in keys was found in the cache.
	Hit bool
}

// Restore tries each of keys in order against the cache and, on the
// first hit, decodes the matched entry into destination, which must
// already exist. Returns a zero RestoreResult (Hit == false) together
// with the cache's KindNotFound error if none of keys were found;
// destination is left untouched in that case.
func (p *Pipeline) Restore(keys []string, destination string) (RestoreResult, error) {
	hit, err := p.cache.Get(keys)
	if err != nil {
		return RestoreResult{}, err
	}
	defer hit.Reader.Close()

	if err := streamcodec.Decode(hit.Reader, destination); err != nil {
		return RestoreResult{}, err
	}

	fallback := len(keys) > 0 && keys[0] != hit.Key
	return RestoreResult{Key: hit.Key, Fallback: fallback, Hit: true}, nil
}

// Store encodes the directory tree rooted at source and sets it under
// every key in keys.
func (p *Pipeline) Store(keys []string, source string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(streamcodec.Encode(pw, source))
	}()
	return p.cache.Set(keys, pr)
}

// Clean evicts entries from the cache per maxAge/maxSize.
func (p *Pipeline) Clean(maxAge *time.Duration, maxSize *int64) (cache.CleanSummary, error) {
	return p.cache.Clean(maxAge, maxSize)
}
