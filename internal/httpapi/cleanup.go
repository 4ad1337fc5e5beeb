package httpapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/btdt-ci/btdt/internal/cache"
)

// cleanupScheduler fires Clean on every configured cache on a fixed
// interval (spec.md §4.5). Cleanup is serialized per cache: an
// overlapping tick for a cache still running its previous cleanup is
// coalesced (dropped), matching spec.md §5's "at most one cleanup task
// per cache at a time".
type cleanupScheduler struct {
	caches map[string]cache.Cache
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func newCleanupScheduler(caches map[string]cache.Cache, logger *slog.Logger) *cleanupScheduler {
	return &cleanupScheduler{
		caches:  caches,
		logger:  logger,
		running: make(map[string]bool),
	}
}

func (c *cleanupScheduler) start(ctx context.Context, interval time.Duration, maxAge *time.Duration, maxSize *int64) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(maxAge, maxSize)
			}
		}
	}()
}

func (c *cleanupScheduler) tick(maxAge *time.Duration, maxSize *int64) {
	for name, ch := range c.caches {
		if !c.tryMarkRunning(name) {
			c.logger.Info("cleanup already in progress, skipping this tick", "cache", name)
			continue
		}
		go func(name string, ch cache.Cache) {
			defer c.markDone(name)
			summary, err := ch.Clean(maxAge, maxSize)
			if err != nil {
				c.logger.Error("cleanup failed", "cache", name, "error", err)
				return
			}
			c.logger.Info("cleanup completed",
				"cache", name,
				"mappings_deleted", summary.MappingsDeleted,
				"entries_deleted", summary.EntriesDeleted,
				"bytes_freed", summary.BytesFreed,
			)
		}(name, ch)
	}
}

func (c *cleanupScheduler) tryMarkRunning(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[name] {
		return false
	}
	c.running[name] = true
	return true
}

func (c *cleanupScheduler) markDone(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, name)
}
