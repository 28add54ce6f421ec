// Package cache keeps verified local copies of remote media.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mesophy/signaged/internal/config"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/repository"
)

const tempPattern = ".download-*"

// Downloader streams a remote file into dst and returns its Content-Type.
type Downloader interface {
	Download(ctx context.Context, rawURL, token string, dst io.Writer) (string, error)
}

type Stats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

type Cache struct {
	dir        string
	repo       repository.MediaCacheRepository
	downloader Downloader
	group      singleflight.Group
	now        func() time.Time
	logger     zerolog.Logger
}

func New(dir string, repo repository.MediaCacheRepository, downloader Downloader) *Cache {
	return &Cache{
		dir:        dir,
		repo:       repo,
		downloader: downloader,
		now:        time.Now,
		logger:     log.With().Str("component", "cache").Logger(),
	}
}

func (c *Cache) Dir() string {
	return c.dir
}

// Reconcile removes leftover partial downloads and forgets entries whose
// file has disappeared. Run once before the cache is used.
func (c *Cache) Reconcile(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	partials, err := filepath.Glob(filepath.Join(c.dir, tempPattern))
	if err != nil {
		return err
	}
	for _, p := range partials {
		os.Remove(p)
	}

	entries, err := c.repo.ListOldestFirst(ctx)
	if err != nil {
		return apperrors.Database(err)
	}
	dropped := 0
	for _, e := range entries {
		if _, err := os.Stat(e.LocalPath); errors.Is(err, fs.ErrNotExist) {
			if err := c.repo.Delete(ctx, e.MediaID); err != nil {
				return apperrors.Database(err)
			}
			dropped++
		}
	}

	c.logger.Info().
		Int("entries", len(entries)-dropped).
		Int("dropped", dropped).
		Int("partials", len(partials)).
		Msg("cache reconciled")
	return nil
}

// Ensure returns the local path of a verified copy of asset, downloading it
// when no valid entry exists. Concurrent calls for the same asset share one
// download. A failed download leaves neither a file nor an entry behind.
func (c *Cache) Ensure(ctx context.Context, asset model.MediaAsset, token string) (string, error) {
	if asset.ID == "" {
		return "", apperrors.ValidationError("media asset has no id")
	}

	v, err, shared := c.group.Do(asset.ID, func() (any, error) {
		return c.ensure(ctx, asset, token)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug().Str("mediaId", asset.ID).Msg("joined in-flight download")
	}
	return v.(string), nil
}

// Lookup returns the path of a valid entry without touching the network.
func (c *Cache) Lookup(ctx context.Context, asset model.MediaAsset) (string, bool) {
	entry, err := c.repo.Find(ctx, asset.ID)
	if err != nil || entry == nil {
		return "", false
	}
	if !c.valid(entry, asset) {
		return "", false
	}
	return entry.LocalPath, true
}

func (c *Cache) ensure(ctx context.Context, asset model.MediaAsset, token string) (string, error) {
	entry, err := c.repo.Find(ctx, asset.ID)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if entry != nil {
		if c.valid(entry, asset) {
			return entry.LocalPath, nil
		}
		c.logger.Info().Str("mediaId", asset.ID).Msg("cache entry stale, refetching")
		if err := c.remove(ctx, *entry); err != nil {
			return "", err
		}
	}

	return c.fetch(ctx, asset, token)
}

// valid reports whether the entry's file exists with its recorded size, the
// expected size when known, and the asset has not moved to another URL.
func (c *Cache) valid(entry *model.CacheEntry, asset model.MediaAsset) bool {
	if asset.SourceURL != "" && entry.SourceURL != asset.SourceURL {
		return false
	}
	info, err := os.Stat(entry.LocalPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if info.Size() != entry.FileSize {
		return false
	}
	if asset.ExpectedSize > 0 && info.Size() != asset.ExpectedSize {
		return false
	}
	return true
}

func (c *Cache) fetch(ctx context.Context, asset model.MediaAsset, token string) (string, error) {
	if asset.SourceURL == "" {
		return "", apperrors.DownloadFailed(asset.ID, errors.New("no source url"))
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", apperrors.DownloadFailed(asset.ID, err)
	}

	tmp, err := os.CreateTemp(c.dir, tempPattern)
	if err != nil {
		return "", apperrors.DownloadFailed(asset.ID, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	start := c.now()
	contentType, err := c.downloader.Download(ctx, asset.SourceURL, token, tmp)
	closeErr := tmp.Close()
	if err != nil {
		return "", apperrors.DownloadFailed(asset.ID, err)
	}
	if closeErr != nil {
		return "", apperrors.DownloadFailed(asset.ID, closeErr)
	}

	result, err := verify(tmpPath, asset, contentType)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("mediaId", asset.ID).
			Msg("downloaded file rejected")
		return "", err
	}

	finalPath := filepath.Join(c.dir, LocalName(asset))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", apperrors.DownloadFailed(asset.ID, err)
	}
	committed = true

	mimeType := asset.MimeType
	if mimeType == "" {
		mimeType = result.mimeType
	}
	entry := model.CacheEntry{
		MediaID:      asset.ID,
		Name:         asset.Name,
		SourceURL:    asset.SourceURL,
		LocalPath:    finalPath,
		MimeType:     mimeType,
		FileSize:     result.size,
		Duration:     asset.DurationSeconds,
		DownloadedAt: c.now(),
	}
	if err := c.repo.Upsert(ctx, entry); err != nil {
		os.Remove(finalPath)
		return "", apperrors.Database(err)
	}

	c.logger.Info().
		Str("mediaId", asset.ID).
		Str("size", humanize.Bytes(uint64(result.size))).
		Str("mimeType", mimeType).
		Dur("elapsed", c.now().Sub(start)).
		Msg("media cached")

	return finalPath, nil
}

func (c *Cache) remove(ctx context.Context, entry model.CacheEntry) error {
	if err := os.Remove(entry.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn().Err(err).Str("path", entry.LocalPath).Msg("failed to remove cached file")
	}
	if err := c.repo.Delete(ctx, entry.MediaID); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// LocalName is the on-disk file name for an asset: the media id and a
// sanitized display name, capped in length with the extension preserved.
func LocalName(asset model.MediaAsset) string {
	name := asset.Name
	if name == "" {
		name = filepath.Base(asset.SourceURL)
	}
	full := sanitize(asset.ID + "_" + name)
	if len(full) <= config.MaxCacheFilename {
		return full
	}

	ext := filepath.Ext(full)
	if len(ext) > 10 {
		ext = ""
	}
	return full[:config.MaxCacheFilename-len(ext)] + ext
}

func sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "media"
	}
	return out
}
