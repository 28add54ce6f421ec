package cache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/model"
)

// EvictOldest removes entries by ascending download time until at least
// target bytes are freed or nothing is left, and returns the bytes freed.
func (c *Cache) EvictOldest(ctx context.Context, target int64) (int64, error) {
	if target <= 0 {
		return 0, nil
	}
	entries, err := c.repo.ListOldestFirst(ctx)
	if err != nil {
		return 0, apperrors.Database(err)
	}

	freed, removed, err := c.evict(ctx, entries, func(freed int64) bool { return freed >= target })
	c.logger.Info().
		Int("removed", removed).
		Str("freed", humanize.Bytes(uint64(freed))).
		Str("target", humanize.Bytes(uint64(target))).
		Msg("evicted oldest cache entries")
	return freed, err
}

// EvictOlderThan removes every entry downloaded more than maxAge ago.
func (c *Cache) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, int64, error) {
	entries, err := c.repo.ListOlderThan(ctx, c.now().Add(-maxAge))
	if err != nil {
		return 0, 0, apperrors.Database(err)
	}
	freed, removed, err := c.evict(ctx, entries, nil)
	if removed > 0 {
		c.logger.Info().
			Int("removed", removed).
			Str("freed", humanize.Bytes(uint64(freed))).
			Dur("maxAge", maxAge).
			Msg("evicted expired cache entries")
	}
	return removed, freed, err
}

// EnforceMaxSize evicts the oldest entries while the cache exceeds maxBytes.
func (c *Cache) EnforceMaxSize(ctx context.Context, maxBytes int64) (int64, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	total, err := c.repo.TotalSize(ctx)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	if total <= maxBytes {
		return 0, nil
	}
	return c.EvictOldest(ctx, total-maxBytes)
}

// Clear removes every entry and any partial downloads. Files the cache did
// not create are left alone, since the directory may be shared.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	entries, err := c.repo.ListOldestFirst(ctx)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	freed, _, err := c.evict(ctx, entries, nil)
	if err != nil {
		return freed, err
	}

	partials, _ := filepath.Glob(filepath.Join(c.dir, tempPattern))
	for _, p := range partials {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			freed += info.Size()
			os.Remove(p)
		}
	}

	c.logger.Info().
		Int("entries", len(entries)).
		Str("freed", humanize.Bytes(uint64(freed))).
		Msg("cache cleared")
	return freed, nil
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	count, err := c.repo.Count(ctx)
	if err != nil {
		return Stats{}, apperrors.Database(err)
	}
	total, err := c.repo.TotalSize(ctx)
	if err != nil {
		return Stats{}, apperrors.Database(err)
	}
	return Stats{Files: count, Bytes: total}, nil
}

func (c *Cache) evict(ctx context.Context, entries []model.CacheEntry, done func(freed int64) bool) (int64, int, error) {
	var freed int64
	removed := 0
	for _, e := range entries {
		if done != nil && done(freed) {
			break
		}
		if err := c.remove(ctx, e); err != nil {
			return freed, removed, err
		}
		freed += e.FileSize
		removed++
	}
	return freed, removed, nil
}
