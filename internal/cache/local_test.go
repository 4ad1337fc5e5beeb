package cache

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btdt-ci/btdt/internal/cacheerr"
	"github.com/btdt-ci/btdt/internal/storage"
)

func setContent(t *testing.T, c *LocalCache, keys []string, content string) {
	t.Helper()
	require.NoError(t, c.Set(keys, bytes.NewBufferString(content)))
}

func assertHit(t *testing.T, c *LocalCache, keys []string, wantKey, wantContent string) {
	t.Helper()
	hit, err := c.Get(keys)
	require.NoError(t, err)
	defer hit.Reader.Close()
	assert.Equal(t, wantKey, hit.Key)
	data, err := io.ReadAll(hit.Reader)
	require.NoError(t, err)
	assert.Equal(t, wantContent, string(data))
}

func assertMiss(t *testing.T, c *LocalCache, keys []string) {
	t.Helper()
	_, err := c.Get(keys)
	assert.True(t, cacheerr.Is(err, cacheerr.KindNotFound))
}

func TestLocalCacheMissForUnknownKeys(t *testing.T) {
	c := NewLocalCache(storage.NewInMemoryStorage())
	assertMiss(t, c, []string{"nope", "also-nope"})
}

func TestLocalCacheRoundtrip(t *testing.T) {
	c := NewLocalCache(storage.NewInMemoryStorage())
	setContent(t, c, []string{"key"}, "Hello, world!")
	assertHit(t, c, []string{"key"}, "key", "Hello, world!")
}

func TestLocalCacheAllSetKeysRetrievable(t *testing.T) {
	c := NewLocalCache(storage.NewInMemoryStorage())
	setContent(t, c, []string{"key0", "key1"}, "Hello, world!")
	assertHit(t, c, []string{"key0"}, "key0", "Hello, world!")
	assertHit(t, c, []string{"key1"}, "key1", "Hello, world!")
}

func TestLocalCacheGetFallsBackToFirstAvailableKey(t *testing.T) {
	c := NewLocalCache(storage.NewInMemoryStorage())
	setContent(t, c, []string{"actual-key"}, "Hello, world!")
	setContent(t, c, []string{"ignored-key"}, "Goodbye, world!")

	assertHit(t, c, []string{"missing-key", "actual-key", "ignored-key"}, "actual-key", "Hello, world!")
}

func TestLocalCacheDedupesIdenticalContent(t *testing.T) {
	s := storage.NewInMemoryStorage()
	c := NewLocalCache(s)
	setContent(t, c, []string{"key0"}, "same bytes")
	setContent(t, c, []string{"key1"}, "same bytes")

	var blobCount int
	shards, err := s.List(blobDir)
	require.NoError(t, err)
	for _, shard := range shards {
		entries, err := s.List(blobDir + "/" + shard.Name)
		require.NoError(t, err)
		blobCount += len(entries)
	}
	assert.Equal(t, 1, blobCount, "identical content should be stored once")
}

func TestLocalCacheGetUpdatesLastAccess(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewLocalCache(storage.NewInMemoryStorage(), WithClock(func() time.Time { return clock() }))

	setContent(t, c, []string{"key"}, "Hello, world!")

	now = now.Add(24 * time.Hour)
	hit, err := c.Get([]string{"key"})
	require.NoError(t, err)
	_, _ = io.ReadAll(hit.Reader)
	hit.Reader.Close()

	p, err := metaPath("key")
	require.NoError(t, err)
	m, err := c.readMeta(p)
	require.NoError(t, err)
	assert.Equal(t, now, m.LastAccess)
}

func TestLocalCacheCleanNoopWithoutLimits(t *testing.T) {
	c := NewLocalCache(storage.NewInMemoryStorage())
	setContent(t, c, []string{"key"}, "Hello, world!")

	summary, err := c.Clean(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, CleanSummary{}, summary)
	assertHit(t, c, []string{"key"}, "key", "Hello, world!")
}

func TestLocalCacheCleanRemovesUnusedEntriesByAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewLocalCache(storage.NewInMemoryStorage(), WithClock(func() time.Time { return clock() }))

	setContent(t, c, []string{"old"}, "Hello, world!")
	now = now.Add(2 * 24 * time.Hour)
	setContent(t, c, []string{"new"}, "Goodbye, world!")
	now = now.Add(24 * time.Hour)

	maxAge := 2 * 24 * time.Hour
	summary, err := c.Clean(&maxAge, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EntriesDeleted)

	assertMiss(t, c, []string{"old"})
	assertHit(t, c, []string{"new"}, "new", "Goodbye, world!")
}

func TestLocalCacheCleanKeepsEntryWithRecentlyAccessedAlias(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewLocalCache(storage.NewInMemoryStorage(), WithClock(func() time.Time { return clock() }))

	setContent(t, c, []string{"old", "new"}, "Hello, world!")
	now = now.Add(2 * 24 * time.Hour)

	_, err := c.Get([]string{"new"})
	require.NoError(t, err)

	maxAge := 24 * time.Hour
	_, err = c.Clean(&maxAge, nil)
	require.NoError(t, err)

	assertHit(t, c, []string{"old"}, "old", "Hello, world!")
	assertHit(t, c, []string{"new"}, "new", "Hello, world!")
}

func TestLocalCacheCleanRemovesOldestEntriesUntilSizeLimitMet(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewLocalCache(storage.NewInMemoryStorage(), WithClock(func() time.Time { return clock() }))

	setContent(t, c, []string{"3-days-old", "3-days-old-alternate"}, "3333333333")
	now = now.Add(24 * time.Hour)
	setContent(t, c, []string{"2-days-old"}, "2222222222")
	now = now.Add(24 * time.Hour)
	setContent(t, c, []string{"1-day-old"}, "1111111111")
	now = now.Add(24 * time.Hour)
	setContent(t, c, []string{"0-days-old"}, "0000000000")

	maxSize := int64(21)
	_, err := c.Clean(nil, &maxSize)
	require.NoError(t, err)

	assertMiss(t, c, []string{"3-days-old"})
	assertMiss(t, c, []string{"3-days-old-alternate"})
	assertMiss(t, c, []string{"2-days-old"})
	assertHit(t, c, []string{"1-day-old"}, "1-day-old", "1111111111")
	assertHit(t, c, []string{"0-days-old"}, "0-days-old", "0000000000")
}

func TestLocalCacheKeyWithoutBlobIsHandledGracefully(t *testing.T) {
	s := storage.NewInMemoryStorage()
	c := NewLocalCache(s)
	setContent(t, c, []string{"key0"}, "cached content")

	shards, err := s.List(blobDir)
	require.NoError(t, err)
	for _, shard := range shards {
		entries, err := s.List(blobDir + "/" + shard.Name)
		require.NoError(t, err)
		for _, e := range entries {
			require.NoError(t, s.Remove(blobDir+"/"+shard.Name+"/"+e.Name))
		}
	}

	setContent(t, c, []string{"key1"}, "fallback")

	assertMiss(t, c, []string{"key0"})
	assertHit(t, c, []string{"key0", "key1"}, "key1", "fallback")
}

func TestLocalCacheRejectsInvalidKeys(t *testing.T) {
	c := NewLocalCache(storage.NewInMemoryStorage())
	err := c.Set([]string{"has/slash"}, bytes.NewBufferString("x"))
	assert.True(t, cacheerr.Is(err, cacheerr.KindInvalidInput))
}

func countBlobs(t *testing.T, s storage.Storage) int {
	t.Helper()
	shards, err := s.List(blobDir)
	require.NoError(t, err)
	var n int
	for _, shard := range shards {
		entries, err := s.List(blobDir + "/" + shard.Name)
		require.NoError(t, err)
		n += len(entries)
	}
	return n
}

func TestLocalCacheCleanDeletesOrphanedBlobUnconditionally(t *testing.T) {
	s := storage.NewInMemoryStorage()
	c := NewLocalCache(s)

	setContent(t, c, []string{"key"}, "first content")
	assert.Equal(t, 1, countBlobs(t, s))

	// Overwriting "key" points its mapping at a new blob; the original
	// blob now has zero surviving mappings and is an orphan.
	setContent(t, c, []string{"key"}, "second content")
	assert.Equal(t, 2, countBlobs(t, s), "both blobs should still be on disk before clean runs")

	summary, err := c.Clean(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EntriesDeleted, "clean with no limits still sweeps orphans")

	assert.Equal(t, 1, countBlobs(t, s), "the orphaned blob should have been deleted")
	assertHit(t, c, []string{"key"}, "key", "second content")
}
