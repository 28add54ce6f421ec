package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesophy/signaged/internal/database"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/repository"
)

// pngBytes is a PNG signature padded past the minimum file size.
func pngBytes(size int) []byte {
	sig := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	return append(sig, bytes.Repeat([]byte{0}, size-len(sig))...)
}

type fakeDownloader struct {
	mu          sync.Mutex
	bodies      map[string][]byte
	contentType string
	calls       atomic.Int32
	gate        chan struct{}
	err         error
}

func (f *fakeDownloader) Download(ctx context.Context, rawURL, token string, dst io.Writer) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	body, ok := f.bodies[rawURL]
	f.mu.Unlock()
	if !ok {
		return "", errors.New("404")
	}
	_, err := dst.Write(body)
	return f.contentType, err
}

func setup(t *testing.T, dl *fakeDownloader) (*Cache, repository.MediaCacheRepository) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repository.NewMediaCacheRepository(db.DB)
	c := New(filepath.Join(t.TempDir(), "content"), repo, dl)
	require.NoError(t, c.Reconcile(context.Background()))
	return c, repo
}

func asset(id string, size int64) model.MediaAsset {
	return model.MediaAsset{
		ID:           id,
		Name:         id + ".png",
		SourceURL:    "https://cdn.example.com/" + id + ".png",
		MimeType:     "image/png",
		ExpectedSize: size,
	}
}

func dirFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()

	t.Run("downloads once then serves from cache", func(t *testing.T) {
		a := asset("m1", 512)
		dl := &fakeDownloader{bodies: map[string][]byte{a.SourceURL: pngBytes(512)}, contentType: "image/png"}
		c, _ := setup(t, dl)

		first, err := c.Ensure(ctx, a, "t1")
		require.NoError(t, err)
		second, err := c.Ensure(ctx, a, "t1")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), dl.calls.Load())
		assert.Equal(t, "m1_m1.png", filepath.Base(first))

		path, ok := c.Lookup(ctx, a)
		assert.True(t, ok)
		assert.Equal(t, first, path)
	})

	t.Run("size mismatch leaves nothing behind", func(t *testing.T) {
		a := asset("m2", 4096)
		dl := &fakeDownloader{bodies: map[string][]byte{a.SourceURL: pngBytes(1024)}}
		c, repo := setup(t, dl)

		_, err := c.Ensure(ctx, a, "")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeVerificationFailed, apperrors.GetCode(err))

		entry, err := repo.Find(ctx, "m2")
		require.NoError(t, err)
		assert.Nil(t, entry)
		assert.Empty(t, dirFiles(t, c.Dir()))
	})

	t.Run("rejects tiny files", func(t *testing.T) {
		a := asset("m3", 0)
		dl := &fakeDownloader{bodies: map[string][]byte{a.SourceURL: []byte("<html>")}}
		c, _ := setup(t, dl)

		_, err := c.Ensure(ctx, a, "")
		assert.Equal(t, apperrors.ErrCodeVerificationFailed, apperrors.GetCode(err))
		assert.Empty(t, dirFiles(t, c.Dir()))
	})

	t.Run("rejects content of another family", func(t *testing.T) {
		a := asset("m4", 0)
		page := "<!DOCTYPE html><html><body>" + strings.Repeat("error ", 40) + "</body></html>"
		dl := &fakeDownloader{bodies: map[string][]byte{a.SourceURL: []byte(page)}}
		c, _ := setup(t, dl)

		_, err := c.Ensure(ctx, a, "")
		assert.Equal(t, apperrors.ErrCodeVerificationFailed, apperrors.GetCode(err))
	})

	t.Run("download failure", func(t *testing.T) {
		dl := &fakeDownloader{err: errors.New("connection reset")}
		c, _ := setup(t, dl)

		_, err := c.Ensure(ctx, asset("m5", 0), "")
		assert.Equal(t, apperrors.ErrCodeDownloadFailed, apperrors.GetCode(err))
		assert.Empty(t, dirFiles(t, c.Dir()))
	})

	t.Run("missing file forces a refetch", func(t *testing.T) {
		a := asset("m6", 256)
		dl := &fakeDownloader{bodies: map[string][]byte{a.SourceURL: pngBytes(256)}}
		c, _ := setup(t, dl)

		path, err := c.Ensure(ctx, a, "")
		require.NoError(t, err)
		require.NoError(t, os.Remove(path))

		_, ok := c.Lookup(ctx, a)
		assert.False(t, ok)

		_, err = c.Ensure(ctx, a, "")
		require.NoError(t, err)
		assert.Equal(t, int32(2), dl.calls.Load())
	})

	t.Run("url change invalidates", func(t *testing.T) {
		a := asset("m7", 256)
		moved := a
		moved.SourceURL = "https://cdn.example.com/v2/m7.png"
		dl := &fakeDownloader{bodies: map[string][]byte{
			a.SourceURL:     pngBytes(256),
			moved.SourceURL: pngBytes(256),
		}}
		c, repo := setup(t, dl)

		_, err := c.Ensure(ctx, a, "")
		require.NoError(t, err)
		_, err = c.Ensure(ctx, moved, "")
		require.NoError(t, err)
		assert.Equal(t, int32(2), dl.calls.Load())

		entry, err := repo.Find(ctx, "m7")
		require.NoError(t, err)
		assert.Equal(t, moved.SourceURL, entry.SourceURL)
	})

	t.Run("concurrent calls share one download", func(t *testing.T) {
		a := asset("m8", 300)
		dl := &fakeDownloader{
			bodies: map[string][]byte{a.SourceURL: pngBytes(300)},
			gate:   make(chan struct{}),
		}
		c, _ := setup(t, dl)

		var wg sync.WaitGroup
		paths := make([]string, 5)
		errs := make([]error, 5)
		for i := range paths {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				paths[i], errs[i] = c.Ensure(ctx, a, "")
			}(i)
		}

		require.Eventually(t, func() bool { return dl.calls.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(dl.gate)
		wg.Wait()

		for i := range paths {
			require.NoError(t, errs[i])
			assert.Equal(t, paths[0], paths[i])
		}
		assert.Equal(t, int32(1), dl.calls.Load())
	})
}

func TestEviction(t *testing.T) {
	ctx := context.Background()
	dl := &fakeDownloader{bodies: map[string][]byte{}}
	for _, id := range []string{"a", "b", "c"} {
		dl.bodies[asset(id, 0).SourceURL] = pngBytes(1000)
	}

	newFilled := func(t *testing.T) *Cache {
		c, _ := setup(t, dl)
		clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for _, id := range []string{"a", "b", "c"} {
			clock = clock.Add(24 * time.Hour)
			now := clock
			c.now = func() time.Time { return now }
			_, err := c.Ensure(ctx, asset(id, 0), "")
			require.NoError(t, err)
		}
		return c
	}

	t.Run("oldest first until target met", func(t *testing.T) {
		c := newFilled(t)
		freed, err := c.EvictOldest(ctx, 1500)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), freed)

		_, ok := c.Lookup(ctx, asset("a", 0))
		assert.False(t, ok)
		_, ok = c.Lookup(ctx, asset("c", 0))
		assert.True(t, ok)
	})

	t.Run("target beyond cache empties it", func(t *testing.T) {
		c := newFilled(t)
		freed, err := c.EvictOldest(ctx, 1<<30)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), freed)

		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{}, stats)
	})

	t.Run("by age", func(t *testing.T) {
		c := newFilled(t)
		removed, freed, err := c.EvictOlderThan(ctx, 36*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Equal(t, int64(1000), freed)
	})

	t.Run("max size", func(t *testing.T) {
		c := newFilled(t)
		freed, err := c.EnforceMaxSize(ctx, 2500)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), freed)

		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Files)
		assert.Equal(t, int64(2000), stats.Bytes)
	})

	t.Run("clear", func(t *testing.T) {
		c := newFilled(t)
		require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), ".download-42"), []byte("x"), 0o644))

		freed, err := c.Clear(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3001), freed)
		assert.Empty(t, dirFiles(t, c.Dir()))

		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{}, stats)
	})

	t.Run("clear keeps files it does not own", func(t *testing.T) {
		c := newFilled(t)
		foreign := []string{"signaged.db", "signaged.db-wal", "notes_2026.txt"}
		for _, name := range foreign {
			require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), name), []byte("keep"), 0o644))
		}

		freed, err := c.Clear(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), freed)
		assert.ElementsMatch(t, foreign, dirFiles(t, c.Dir()))
	})
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	a := asset("m1", 0)
	dl := &fakeDownloader{bodies: map[string][]byte{a.SourceURL: pngBytes(200)}}
	c, repo := setup(t, dl)

	path, err := c.Ensure(ctx, a, "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), ".download-123"), []byte("partial"), 0o644))

	require.NoError(t, c.Reconcile(ctx))

	entry, err := repo.Find(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Empty(t, dirFiles(t, c.Dir()))
}

func TestLocalName(t *testing.T) {
	tests := []struct {
		name  string
		asset model.MediaAsset
		want  string
	}{
		{"plain", model.MediaAsset{ID: "m1", Name: "logo.png"}, "m1_logo.png"},
		{"unsafe characters", model.MediaAsset{ID: "m1", Name: "../my photo?.jpg"}, "m1_.._my_photo_.jpg"},
		{"name from url", model.MediaAsset{ID: "m1", SourceURL: "https://cdn/x/clip.mp4"}, "m1_clip.mp4"},
		{"leading dot", model.MediaAsset{ID: ".hidden", Name: "x"}, "hidden_x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LocalName(tc.asset))
		})
	}

	t.Run("long names keep extension", func(t *testing.T) {
		got := LocalName(model.MediaAsset{ID: "m1", Name: strings.Repeat("a", 300) + ".mp4"})
		assert.Len(t, got, 100)
		assert.True(t, strings.HasSuffix(got, ".mp4"))
	})
}

func TestNormalizeMime(t *testing.T) {
	assert.Equal(t, "image/jpeg", NormalizeMime("image/jpg"))
	assert.Equal(t, "image/jpeg", NormalizeMime("IMAGE/PJPEG"))
	assert.Equal(t, "video/quicktime", NormalizeMime("video/mov"))
	assert.Equal(t, "text/html", NormalizeMime("text/html; charset=utf-8"))
}
