package cache

import (
	"bytes"
	"container/heap"
	"io"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	digest "github.com/opencontainers/go-digest"
	"github.com/rs/xid"

	"github.com/btdt-ci/btdt/internal/cacheerr"
	"github.com/btdt-ci/btdt/internal/cachehash"
	"github.com/btdt-ci/btdt/internal/lock"
	"github.com/btdt-ci/btdt/internal/storage"
)

const (
	blobDir        = "/entries"
	metaDir        = "/keys"
	blobStagingDir = "/tmp"
	// acceleratorMaxBlobSize bounds what the in-process read cache will
	// hold per entry, so one huge artifact can't evict the rest of it.
	acceleratorMaxBlobSize = 256 * 1024
	acceleratorEntries     = 256
)

// LocalCache implements Cache against a storage.Storage, the content
// getting addressed by its own hash rather than the original source's
// random BlobId — spec §3 requires entries be deduplicated by content,
// which a random identifier can never give you. Grounded on
// original_source/btdt/src/cache/local.rs for the overall shape (meta
// records sharded by a hash of the key, blobs sharded by the first hex
// characters of their id, clean() as a latest-access min-heap sweep),
// adapted to Go's container/heap and to content addressing throughout.
type LocalCache struct {
	storage storage.Storage
	locks   lock.Group
	clock   func() time.Time

	accelerator *lru.Cache[string, []byte]
}

// LocalCacheOption configures optional LocalCache behavior.
type LocalCacheOption func(*LocalCache)

// WithClock overrides the cache's notion of "now", for tests.
func WithClock(clock func() time.Time) LocalCacheOption {
	return func(c *LocalCache) { c.clock = clock }
}

// WithLockGroup overrides the concurrency-control Group. Defaults to
// lock.NewNoOpGroup(), appropriate for InMemoryStorage or single-writer
// use; callers sharing a filesystem backend across processes should
// pass a lock.FileLock.
func WithLockGroup(g lock.Group) LocalCacheOption {
	return func(c *LocalCache) { c.locks = g }
}

// NewLocalCache creates a LocalCache over s. A small in-process LRU
// accelerates repeated Get calls for the same small artifacts (spec
// §9's "the local cache may keep a bounded in-memory accelerator");
// it is an optimization only, never a source of truth.
func NewLocalCache(s storage.Storage, opts ...LocalCacheOption) *LocalCache {
	accel, err := lru.New[string, []byte](acceleratorEntries)
	if err != nil {
		// Only returns an error for a non-positive size, which acceleratorEntries never is.
		panic(err)
	}
	c := &LocalCache{
		storage:     s,
		locks:       lock.NewNoOpGroup(),
		clock:       time.Now,
		accelerator: accel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func blobPath(d digest.Digest) string {
	enc := d.Encoded()
	return blobDir + "/" + enc[:2] + "/" + enc[2:]
}

func metaPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return "", cacheerr.New(cacheerr.KindInvalidInput, "cache key must be non-empty and contain no path separators: "+key)
	}
	h := cachehash.NewHasher()
	_, _ = h.Write([]byte(key))
	shard := cachehash.ShardPrefix(h.Digest(), 2)
	return metaDir + "/" + shard + "/" + key, nil
}

func (c *LocalCache) readMeta(path string) (meta, error) {
	r, _, err := c.storage.Open(path)
	if err != nil {
		return meta{}, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return meta{}, cacheerr.Wrap(cacheerr.KindIO, "read meta record", err)
	}
	return decodeMeta(data)
}

func (c *LocalCache) writeMeta(path string, m meta) error {
	data, err := encodeMeta(m)
	if err != nil {
		return err
	}
	w, err := c.storage.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return cacheerr.Wrap(cacheerr.KindIO, "write meta record", err)
	}
	return w.Close()
}

// Get implements Cache.
func (c *LocalCache) Get(keys []string) (Hit, error) {
	for _, key := range keys {
		path, err := metaPath(key)
		if err != nil {
			return Hit{}, err
		}

		res, err := c.locks.DoWithLock("meta:"+key, func() (any, error) {
			m, err := c.readMeta(path)
			if err != nil {
				return nil, err
			}

			m.LastAccess = c.clock()
			if err := c.writeMeta(path, m); err != nil {
				return nil, err
			}
			return m, nil
		})
		if err != nil {
			if cacheerr.Is(err, cacheerr.KindNotFound) {
				continue
			}
			return Hit{}, err
		}
		m := res.(meta)

		d, err := m.digest()
		if err != nil {
			return Hit{}, err
		}

		if data, ok := c.accelerator.Get(d.String()); ok {
			return Hit{Key: key, Reader: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
		}

		bp := blobPath(d)
		r, size, err := c.storage.Open(bp)
		if err != nil {
			if cacheerr.Is(err, cacheerr.KindNotFound) {
				// Meta points at a blob that no longer exists: self-heal by
				// dropping the dangling mapping and trying the next key
				// (spec: KindCorrupt is safe to self-heal).
				_ = c.storage.Remove(path)
				continue
			}
			return Hit{}, err
		}

		if size <= acceleratorMaxBlobSize {
			data, err := io.ReadAll(r)
			_ = r.Close()
			if err != nil {
				return Hit{}, cacheerr.Wrap(cacheerr.KindIO, "read cache entry", err)
			}
			c.accelerator.Add(d.String(), data)
			return Hit{Key: key, Reader: io.NopCloser(bytes.NewReader(data)), Size: size}, nil
		}

		return Hit{Key: key, Reader: r, Size: size}, nil
	}
	return Hit{}, cacheerr.ErrNotFound
}

// Set implements Cache.
func (c *LocalCache) Set(keys []string, src io.Reader) error {
	if len(keys) == 0 {
		return cacheerr.New(cacheerr.KindInvalidInput, "set requires at least one key")
	}
	for _, key := range keys {
		if _, err := metaPath(key); err != nil {
			return err
		}
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	lockKey := "set:" + strings.Join(sorted, "\x00")

	_, err := c.locks.DoWithLock(lockKey, func() (any, error) {
		d, err := c.stageBlob(src)
		if err != nil {
			return nil, err
		}

		now := c.clock()
		for _, key := range keys {
			path, err := metaPath(key)
			if err != nil {
				return nil, err
			}
			if err := c.writeMeta(path, newMeta(key, d, now)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// stageBlob streams src into a temporary staging path while hashing it,
// then commits it at its content-addressed path. If an entry with the
// same digest already exists, the staged copy is simply discarded
// (spec §3: "identical content is stored exactly once").
func (c *LocalCache) stageBlob(src io.Reader) (digest.Digest, error) {
	tmpPath := blobStagingDir + "/" + xid.New().String()
	w, err := c.storage.Create(tmpPath)
	if err != nil {
		return "", err
	}
	tee := cachehash.NewTeeHasher(w)
	if _, err := io.Copy(tee, src); err != nil {
		_ = w.Close()
		_ = c.storage.Remove(tmpPath)
		return "", cacheerr.Wrap(cacheerr.KindIO, "stream entry into staging area", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	d := tee.Digest()

	final := blobPath(d)
	if exists, err := c.storage.Exists(final); err == nil && exists {
		_ = c.storage.Remove(tmpPath)
		return d, nil
	}

	r, _, err := c.storage.Open(tmpPath)
	if err != nil {
		return "", err
	}
	fw, err := c.storage.Create(final)
	if err != nil {
		_ = r.Close()
		return "", err
	}
	if _, err := io.Copy(fw, r); err != nil {
		_ = r.Close()
		_ = fw.Close()
		return "", cacheerr.Wrap(cacheerr.KindIO, "commit staged entry", err)
	}
	_ = r.Close()
	if err := fw.Close(); err != nil {
		return "", err
	}
	_ = c.storage.Remove(tmpPath)
	return d, nil
}

// blobInfo is a digest's size and the set of keys currently pointing at it.
type blobInfo struct {
	digest    digest.Digest
	size      int64
	latest    time.Time
	metaPaths []string
}

// blobHeap is a min-heap ordered by least-recently-accessed first, so
// Clean can repeatedly pop the next eviction candidate. Mirrors the
// BinaryHeap<Reverse<DateTime>> in original_source/btdt/src/cache/local.rs.
type blobHeap []*blobInfo

func (h blobHeap) Len() int           { return len(h) }
func (h blobHeap) Less(i, j int) bool { return h[i].latest.Before(h[j].latest) }
func (h blobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *blobHeap) Push(x any)        { *h = append(*h, x.(*blobInfo)) }
func (h *blobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Clean implements Cache. Orphan blobs (no surviving key mapping) are
// always deleted; entries with surviving mappings are additionally
// evicted oldest-last-access-first until both the age and size
// constraints are satisfied. A nil limit means that constraint is
// unbounded, and nil/nil means age/size eviction is skipped entirely
// while the orphan sweep still runs (spec §4.3).
func (c *LocalCache) Clean(maxAge *time.Duration, maxSize *int64) (CleanSummary, error) {
	var summary CleanSummary

	blobSizes, err := c.listBlobSizes()
	if err != nil {
		return summary, err
	}

	blobs := make(map[string]*blobInfo)
	if err := c.forEachShardedFile(metaDir, func(path string) error {
		m, err := c.readMeta(path)
		if err != nil {
			return err
		}
		d, err := m.digest()
		if err != nil {
			return err
		}
		size, ok := blobSizes[d.String()]
		if !ok {
			return nil
		}
		bi, ok := blobs[d.String()]
		if !ok {
			bi = &blobInfo{digest: d, size: size, latest: m.LastAccess}
			blobs[d.String()] = bi
		}
		bi.metaPaths = append(bi.metaPaths, path)
		if m.LastAccess.After(bi.latest) {
			bi.latest = m.LastAccess
		}
		return nil
	}); err != nil {
		return summary, err
	}

	// Blobs present on disk but never seen while scanning surviving meta
	// records are orphans: their only mappings were removed or overwritten.
	// Delete them unconditionally, independent of the age/size eviction
	// pass below (spec §4.3 step 3: "delete orphan entries unconditionally").
	for encoded, size := range blobSizes {
		if _, ok := blobs[encoded]; ok {
			continue
		}
		d := digest.Digest(encoded)
		if err := c.storage.Remove(blobPath(d)); err != nil {
			return summary, err
		}
		summary.EntriesDeleted++
		summary.BytesFreed += size
	}

	var totalSize int64
	h := make(blobHeap, 0, len(blobs))
	for _, bi := range blobs {
		totalSize += bi.size
		h = append(h, bi)
	}
	heap.Init(&h)

	var cutoff time.Time
	if maxAge != nil {
		cutoff = c.clock().Add(-*maxAge)
	}

	for h.Len() > 0 {
		bi := h[0]
		ageOK := maxAge == nil || !bi.latest.Before(cutoff)
		sizeOK := maxSize == nil || totalSize <= *maxSize
		if ageOK && sizeOK {
			break
		}

		heap.Pop(&h)
		for _, p := range bi.metaPaths {
			if err := c.storage.Remove(p); err != nil {
				return summary, err
			}
			summary.MappingsDeleted++
		}
		if err := c.storage.Remove(blobPath(bi.digest)); err != nil {
			return summary, err
		}
		summary.EntriesDeleted++
		summary.BytesFreed += bi.size
		totalSize -= bi.size
	}

	return summary, nil
}

func (c *LocalCache) listBlobSizes() (map[string]int64, error) {
	sizes := make(map[string]int64)
	shards, err := c.storage.List(blobDir)
	if err != nil {
		return nil, err
	}
	for _, shard := range shards {
		if shard.Type != storage.EntryDir {
			continue
		}
		entries, err := c.storage.List(blobDir + "/" + shard.Name)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type != storage.EntryFile {
				continue
			}
			d := digest.NewDigestFromEncoded(cachehash.Algorithm, shard.Name+e.Name)
			if err := d.Validate(); err != nil {
				continue
			}
			sizes[d.String()] = e.Size
		}
	}
	return sizes, nil
}

// forEachShardedFile walks a two-level sharded directory (/keys/<shard>/<name>)
// and invokes fn with the full path of every file found.
func (c *LocalCache) forEachShardedFile(dir string, fn func(path string) error) error {
	shards, err := c.storage.List(dir)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if shard.Type != storage.EntryDir {
			continue
		}
		entries, err := c.storage.List(dir + "/" + shard.Name)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Type != storage.EntryFile {
				continue
			}
			if err := fn(dir + "/" + shard.Name + "/" + e.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
