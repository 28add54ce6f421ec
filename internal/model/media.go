package model

import (
	"strings"
	"time"
)

// MediaAsset is a remote file referenced by a playlist. ExpectedSize is zero
// when the cloud does not report one.
type MediaAsset struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SourceURL       string `json:"sourceUrl"`
	MimeType        string `json:"mimeType"`
	ExpectedSize    int64  `json:"expectedSize,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

func (a MediaAsset) Kind() MediaKind {
	return KindOf(a.MimeType)
}

func KindOf(mimeType string) MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaKindImage
	case strings.HasPrefix(mimeType, "video/"):
		return MediaKindVideo
	default:
		return MediaKindOther
	}
}

// CacheEntry is a verified local copy of a MediaAsset.
type CacheEntry struct {
	MediaID      string    `db:"id" json:"mediaId"`
	Name         string    `db:"name" json:"name"`
	SourceURL    string    `db:"url" json:"url"`
	LocalPath    string    `db:"local_path" json:"localPath"`
	MimeType     string    `db:"mime_type" json:"mimeType"`
	FileSize     int64     `db:"file_size" json:"fileSize"`
	Duration     int       `db:"duration" json:"duration"`
	DownloadedAt time.Time `db:"downloaded_at" json:"downloadedAt"`
}
