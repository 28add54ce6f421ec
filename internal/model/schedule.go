package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule is a recurring day/time window bound to a playlist. StartTime and
// EndTime are local wall-clock "HH:MM" or "HH:MM:SS"; a window whose end is
// before its start wraps past midnight.
type Schedule struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	PlaylistID string     `db:"playlist_id" json:"playlistId"`
	StartTime  string     `db:"start_time" json:"startTime"`
	EndTime    string     `db:"end_time" json:"endTime"`
	DaysOfWeek DaysOfWeek `db:"days_of_week" json:"daysOfWeek"`
	Priority   int        `db:"priority" json:"priority"`
	Data       string     `db:"data" json:"-"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

// Playlist decodes the playlist embedded in the schedule document.
func (s Schedule) Playlist() (Playlist, error) {
	var doc ScheduleDocument
	if s.Data == "" {
		return Playlist{ID: s.PlaylistID}, nil
	}
	if err := json.Unmarshal([]byte(s.Data), &doc); err != nil {
		return Playlist{}, fmt.Errorf("decode schedule %s: %w", s.ID, err)
	}
	if doc.Playlist == nil {
		return Playlist{ID: s.PlaylistID}, nil
	}
	return doc.Playlist.ToPlaylist(), nil
}

// SameVersion reports whether other is the same schedule with the same document.
func (s Schedule) SameVersion(other Schedule) bool {
	return s.ID == other.ID && s.Data == other.Data
}

// DaysOfWeek is a set of weekdays, 0 = Sunday. Stored as "0,1,2".
type DaysOfWeek []int

func (d DaysOfWeek) Contains(day time.Weekday) bool {
	for _, v := range d {
		if v == int(day) {
			return true
		}
	}
	return false
}

func (d DaysOfWeek) Value() (driver.Value, error) {
	parts := make([]string, 0, len(d))
	for _, v := range d {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ","), nil
}

func (d *DaysOfWeek) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("days of week: unsupported type %T", src)
	}

	days := DaysOfWeek{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("days of week: %w", err)
		}
		days = append(days, n)
	}
	*d = days
	return nil
}

// NormalizeDays drops out-of-range values and duplicates and sorts the set.
func NormalizeDays(days []int) DaysOfWeek {
	seen := make(map[int]bool, len(days))
	out := DaysOfWeek{}
	for _, v := range days {
		if v < 0 || v > 6 || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// AllDays is used when the cloud omits days_of_week entirely.
func AllDays() DaysOfWeek {
	return DaysOfWeek{0, 1, 2, 3, 4, 5, 6}
}

// Playlist is the ordered list of assets a schedule plays.
type Playlist struct {
	ID    string
	Name  string
	Loop  *bool
	Items []PlaylistItem
}

// ShouldLoop returns the playlist's own setting, or def when unset.
func (p Playlist) ShouldLoop(def bool) bool {
	if p.Loop == nil {
		return def
	}
	return *p.Loop
}

type PlaylistItem struct {
	Position        int
	DisplayDuration time.Duration
	Asset           MediaAsset
}
