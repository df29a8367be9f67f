package syncer

import (
	"time"

	"shsmu-sync/internal/domain"
)

// State is the engine's observable snapshot. It is replaced wholesale on
// every change, so a reader never sees a half-updated composite; the slices
// inside are never mutated in place after publication.
type State struct {
	LoggedIn bool
	Username string

	// UserMessage is a one-shot human-readable status, cleared by the
	// presentation layer after showing it once.
	UserMessage string

	Courses []domain.Course

	// RangeStart/RangeEnd bound the contiguous date interval the cache is
	// known to cover; zero values mean nothing is cached yet.
	RangeStart time.Time
	RangeEnd   time.Time

	ScoreYears       []string
	SelectedYear     string
	SelectedSemester int
	Scores           []domain.ScoreItem
	GPAInfo          string
}
