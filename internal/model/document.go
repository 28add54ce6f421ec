package model

import (
	"sort"
	"time"
)

// ScheduleDocument is the schedule shape delivered by the cloud sync endpoint.
// It is stored verbatim as Schedule.Data.
type ScheduleDocument struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	PlaylistID string            `json:"playlist_id"`
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	DaysOfWeek []int             `json:"days_of_week"`
	Priority   int               `json:"priority"`
	Playlist   *PlaylistDocument `json:"playlists,omitempty"`
}

type PlaylistDocument struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Loop  *bool                  `json:"loop_playlist,omitempty"`
	Items []PlaylistItemDocument `json:"playlist_items"`
}

type PlaylistItemDocument struct {
	OrderIndex      int           `json:"order_index"`
	DisplayDuration int           `json:"display_duration"`
	Media           MediaDocument `json:"media_assets"`
}

type MediaDocument struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FileURL      string `json:"file_url"`
	OptimizedURL string `json:"optimized_url,omitempty"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size,omitempty"`
	Duration     int    `json:"duration,omitempty"`
}

func (d PlaylistDocument) ToPlaylist() Playlist {
	items := make([]PlaylistItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, PlaylistItem{
			Position:        it.OrderIndex,
			DisplayDuration: time.Duration(it.DisplayDuration) * time.Second,
			Asset:           it.Media.ToAsset(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Position < items[j].Position
	})
	return Playlist{ID: d.ID, Name: d.Name, Loop: d.Loop, Items: items}
}

func (m MediaDocument) ToAsset() MediaAsset {
	url := m.OptimizedURL
	if url == "" {
		url = m.FileURL
	}
	return MediaAsset{
		ID:              m.ID,
		Name:            m.Name,
		SourceURL:       url,
		MimeType:        m.MimeType,
		ExpectedSize:    m.FileSize,
		DurationSeconds: m.Duration,
	}
}
