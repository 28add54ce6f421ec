// Package schedule decides which schedule is active at a given instant.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mesophy/signaged/internal/model"
)

const secondsPerDay = 24 * 60 * 60

// ResolveActive returns the schedule that should be playing at now, or nil.
// Among matching schedules the highest priority wins; equal priorities go to
// the lexicographically smallest id, so the result never depends on input
// order.
func ResolveActive(schedules []model.Schedule, now time.Time) *model.Schedule {
	var best *model.Schedule
	for i := range schedules {
		s := &schedules[i]
		if !IsActive(*s, now) {
			continue
		}
		if best == nil || outranks(s, best) {
			best = s
		}
	}
	if best == nil {
		return nil
	}
	winner := *best
	return &winner
}

func outranks(a, b *model.Schedule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

// IsActive reports whether now falls on one of the schedule's days and inside
// [start, end). A window whose end is before its start wraps past midnight.
// Equal start and end cover the whole day. Unparseable times never match.
//
// The day check applies to the calendar day of now, so the after-midnight
// part of a wrapping window belongs to the following day's entry.
func IsActive(s model.Schedule, now time.Time) bool {
	if !s.DaysOfWeek.Contains(now.Weekday()) {
		return false
	}

	start, err := ParseTimeOfDay(s.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseTimeOfDay(s.EndTime)
	if err != nil {
		return false
	}

	t := now.Hour()*3600 + now.Minute()*60 + now.Second()
	switch {
	case start == end:
		return true
	case start < end:
		return t >= start && t < end
	default:
		return t >= start || t < end
	}
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into seconds since midnight.
// "24:00" is accepted as end of day.
func ParseTimeOfDay(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}

	fields := [3]int{}
	limits := [3]int{24, 59, 59}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", value)
		}
		fields[i] = n
	}

	total := fields[0]*3600 + fields[1]*60 + fields[2]
	if total > secondsPerDay {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	return total % secondsPerDay, nil
}
