package syncer

import (
	"sort"
	"time"

	"shsmu-sync/internal/domain"
)

// MergeCourses folds fetched entries into the cached list. The later fetch
// wins on the (title, start) natural key; the result is sorted ascending by
// start time and holds no duplicate keys. Merging is idempotent.
func MergeCourses(existing, fetched []domain.Course) []domain.Course {
	merged := make(map[string]domain.Course, len(existing)+len(fetched))
	for _, c := range existing {
		merged[c.Key()] = c
	}
	for _, c := range fetched {
		merged[c.Key()] = c
	}

	out := make([]domain.Course, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Title < out[j].Title
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// ExtendRange widens the cached interval to cover a fetched window by
// boundary union: min start, max end. A fetch disjoint from the cached
// interval still just moves the nearer edge, silently counting the gap as
// covered; kept that way for compatibility with existing cache files.
func ExtendRange(oldStart, oldEnd, fetchStart, fetchEnd time.Time) (time.Time, time.Time) {
	newStart, newEnd := fetchStart, fetchEnd
	if !oldStart.IsZero() && oldStart.Before(newStart) {
		newStart = oldStart
	}
	if !oldEnd.IsZero() && oldEnd.After(newEnd) {
		newEnd = oldEnd
	}
	return newStart, newEnd
}
