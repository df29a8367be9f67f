// Package syncer is the incremental curriculum cache and the glue between
// the portal client and whatever renders the data. It decides when new
// fetches are needed as the user pages through weeks, merges results into
// the persisted course set and exposes a whole-replacement state snapshot.
package syncer

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shsmu-sync/internal/concurrency"
	"shsmu-sync/internal/domain"
	"shsmu-sync/internal/portal"
	"shsmu-sync/internal/store"
)

// Persisted record names. Fixed contract with existing installs.
const (
	keyUsername      = "username"
	keyPassword      = "password"
	keyCurriculum    = "curriculum_json"
	keyRangeStart    = "curriculum_range_start"
	keyRangeEnd      = "curriculum_range_end"
	keyScoreYear     = "score_year"
	keyScoreSemester = "score_semester"
)

// fallbackYear is requested when nothing was ever selected and the provider
// has not told us its year list yet.
const fallbackYear = "2025-2026"

// PortalClient is the slice of the portal API the engine consumes; the
// concrete client lives in internal/portal, tests inject fakes.
type PortalClient interface {
	CheckSessionValid(ctx context.Context) bool
	AutoLogin(ctx context.Context, username, password, publicKeyPEM string) error
	GetCurriculum(ctx context.Context, start, end time.Time) (*domain.CurriculumTable, error)
	GetScore(ctx context.Context, grade string, semester int) (*portal.ScoreTable, error)
}

// CookieClearer is the jar surface logout needs.
type CookieClearer interface {
	Clear()
}

// Engine owns the persisted cache and the login/fetch workflows. All
// methods may block on the network and are meant to run on worker
// goroutines; the snapshot is the only thing the UI thread touches.
type Engine struct {
	mu    sync.Mutex
	state State

	portal    PortalClient
	store     *store.Store
	jar       CookieClearer
	publicKey string
	log       zerolog.Logger
	now       func() time.Time
}

func New(p PortalClient, st *store.Store, jar CookieClearer, publicKeyPEM string, log zerolog.Logger) *Engine {
	return &Engine{
		state:     State{SelectedSemester: 1},
		portal:    p,
		store:     st,
		jar:       jar,
		publicKey: publicKeyPEM,
		log:       log,
		now:       time.Now,
	}
}

// Snapshot returns the current state. The returned value is safe to keep:
// published slices are never mutated afterwards.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ClearMessage acknowledges the one-shot user message.
func (e *Engine) ClearMessage() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.UserMessage = ""
}

func (e *Engine) showMessage(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.UserMessage = msg
}

// Start loads the persisted cache and, when credentials were saved,
// attempts the same auto-login the app performs on process start. Returns
// the login error, if any; a missing saved login is not an error.
func (e *Engine) Start(ctx context.Context) error {
	e.loadPersisted()

	username, password := e.credentials()
	if username == "" || password == "" {
		return nil
	}
	return e.Login(ctx, username, password)
}

func (e *Engine) loadPersisted() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if payload, ok, err := e.store.Get(keyCurriculum); err == nil && ok {
		e.state.Courses = domain.DecodeCourses(payload)
	}
	if v, ok, err := e.store.Get(keyRangeStart); err == nil && ok {
		if d, err := time.Parse(domain.DateLayout, v); err == nil {
			e.state.RangeStart = d
		}
	}
	if v, ok, err := e.store.Get(keyRangeEnd); err == nil && ok {
		if d, err := time.Parse(domain.DateLayout, v); err == nil {
			e.state.RangeEnd = d
		}
	}
	if v, ok, err := e.store.Get(keyScoreYear); err == nil && ok {
		e.state.SelectedYear = v
	}
	if v, ok, err := e.store.Get(keyScoreSemester); err == nil && ok {
		if sem, err := strconv.Atoi(v); err == nil && (sem == 1 || sem == 2) {
			e.state.SelectedSemester = sem
		}
	}
}

func (e *Engine) credentials() (string, string) {
	username, _, err := e.store.Get(keyUsername)
	if err != nil {
		return "", ""
	}
	password, _, err := e.store.Get(keyPassword)
	if err != nil {
		return "", ""
	}
	return username, password
}

// Login probes the existing session first and falls back to the full
// scrape-solve-submit flow. On success it persists the credentials, marks
// the state logged in and kicks off the initial curriculum and score fetch.
func (e *Engine) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		e.showMessage("student id and password are required")
		return errors.New("syncer: missing credentials")
	}
	if e.publicKey == "" {
		e.showMessage("encryption public key is missing")
		return errors.New("syncer: public key not loaded")
	}

	if e.portal.CheckSessionValid(ctx) {
		e.log.Info().Msg("existing session still valid, skipping login")
	} else {
		if err := e.portal.AutoLogin(ctx, username, password, e.publicKey); err != nil {
			e.showMessage(loginFailureMessage(err))
			return err
		}
	}

	if err := e.store.SetMany(map[string]string{
		keyUsername: username,
		keyPassword: password,
	}); err != nil {
		e.log.Error().Err(err).Msg("persisting credentials failed")
	}

	e.mu.Lock()
	e.state.LoggedIn = true
	e.state.Username = username
	e.state.UserMessage = "login successful"
	e.mu.Unlock()

	if err := e.OnWeekPageChanged(ctx, e.now()); err != nil {
		return err
	}
	return e.FetchScoreData(ctx, "", 0)
}

func loginFailureMessage(err error) string {
	switch {
	case errors.Is(err, portal.ErrCredentialsRejected):
		return "student id or password is incorrect"
	case errors.Is(err, portal.ErrCaptchaUnsolvable):
		return "captcha recognition failed, please try again"
	default:
		return "login failed: " + err.Error()
	}
}

// Logout clears the persisted records, the cookies and the state. An
// in-flight fetch is not aborted; it will find LoggedIn false and its
// result is discarded.
func (e *Engine) Logout() {
	if err := e.store.ClearKV(); err != nil {
		e.log.Error().Err(err).Msg("clearing local records failed")
	}
	e.jar.Clear()

	e.mu.Lock()
	e.state = State{SelectedSemester: 1}
	e.mu.Unlock()
}

// OnWeekPageChanged implements the lookahead policy: no cache yet fetches a
// 4-week window around the visible week; paging within one week of a cached
// boundary fetches 4 weeks further on that side. Most page turns hit the
// cache and trigger nothing.
func (e *Engine) OnWeekPageChanged(ctx context.Context, date time.Time) error {
	s := e.Snapshot()
	if s.RangeStart.IsZero() || s.RangeEnd.IsZero() {
		return e.FetchWeekData(ctx, date.AddDate(0, 0, -14), date.AddDate(0, 0, 14))
	}

	if date.Before(s.RangeStart.AddDate(0, 0, 7)) {
		return e.FetchWeekData(ctx, date.AddDate(0, 0, -28), s.RangeStart)
	}
	if date.After(s.RangeEnd.AddDate(0, 0, -7)) {
		return e.FetchWeekData(ctx, s.RangeEnd, date.AddDate(0, 0, 28))
	}
	return nil
}

// FetchWeekData fetches [start, end] and merges the result into the cache.
// Fetch failures leave the previously cached data intact.
func (e *Engine) FetchWeekData(ctx context.Context, start, end time.Time) error {
	if !e.Snapshot().LoggedIn {
		return nil
	}

	table, err := e.portal.GetCurriculum(ctx, start, end)
	if err != nil {
		e.log.Error().Err(err).Msg("curriculum fetch failed")
		e.showMessage("failed to load courses: " + err.Error())
		return err
	}
	e.mergeCurriculum(table, start, end)
	return nil
}

func (e *Engine) mergeCurriculum(table *domain.CurriculumTable, fetchStart, fetchEnd time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.LoggedIn {
		// Logged out while the fetch was in flight; drop the result.
		return
	}

	fetched := domain.ParseCourses(table.List)
	final := MergeCourses(e.state.Courses, fetched)
	newStart, newEnd := ExtendRange(e.state.RangeStart, e.state.RangeEnd, fetchStart, fetchEnd)

	payload, err := domain.EncodeCourses(final)
	if err == nil {
		err = e.store.SetMany(map[string]string{
			keyCurriculum: payload,
			keyRangeStart: newStart.Format(domain.DateLayout),
			keyRangeEnd:   newEnd.Format(domain.DateLayout),
		})
	}
	if err != nil {
		// Persistence trouble must not corrupt what the user already sees.
		e.log.Error().Err(err).Msg("persisting curriculum cache failed")
		e.state.UserMessage = "failed to save courses: " + err.Error()
	}

	e.state.Courses = final
	e.state.RangeStart = newStart
	e.state.RangeEnd = newEnd
	e.log.Info().
		Int("courses", len(final)).
		Str("range_start", newStart.Format(domain.DateLayout)).
		Str("range_end", newEnd.Format(domain.DateLayout)).
		Msg("curriculum cache merged")
}

// RefreshAllData ignores the cached range and refetches a fixed 4-month
// window centered on now, plus the score sheet, concurrently.
func (e *Engine) RefreshAllData(ctx context.Context) error {
	center := e.now()

	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			return e.FetchWeekData(ctx, center.AddDate(0, -2, 0), center.AddDate(0, 2, 0))
		},
		func(ctx context.Context) error {
			return e.FetchScoreData(ctx, "", 0)
		},
	}

	errs := concurrency.ForEach(ctx, tasks, concurrency.DefaultOptions(),
		func(ctx context.Context, _ int, task func(context.Context) error) error {
			return task(ctx)
		})
	return errors.Join(errs...)
}

// FetchScoreData fetches the score sheet. Empty year/zero semester default
// to the last selection; when the year is still unknown and the provider
// answers with its own year list, the fetch is re-issued once with the last
// entry of that list.
func (e *Engine) FetchScoreData(ctx context.Context, year string, semester int) error {
	return e.fetchScore(ctx, year, semester, true)
}

func (e *Engine) fetchScore(ctx context.Context, year string, semester int, allowRefetch bool) error {
	s := e.Snapshot()
	if !s.LoggedIn {
		return nil
	}

	targetYear := year
	if targetYear == "" {
		targetYear = s.SelectedYear
	}
	targetSemester := semester
	if targetSemester == 0 {
		targetSemester = s.SelectedSemester
	}

	table, err := e.portal.GetScore(ctx, targetYear, targetSemester)
	if err != nil {
		e.log.Error().Err(err).Msg("score fetch failed")
		e.showMessage("failed to load scores: " + err.Error())
		return err
	}

	items := make([]domain.ScoreItem, 0)
	for _, term := range table.Rows {
		for _, row := range term {
			if row.Semester != targetSemester {
				continue
			}
			items = append(items, domain.ScoreItem{
				CourseName:    row.CurriculumName,
				Score:         row.Score,
				MakeupScore:   row.FScore,
				LetterGrade:   row.AchievementGrade,
				Credit:        row.Credit,
				ExamSituation: row.ExaminationSituationStr,
				Semester:      row.Semester,
			})
		}
	}

	finalYear := targetYear
	if finalYear == "" {
		if len(table.Years) > 0 {
			finalYear = table.Years[len(table.Years)-1]
		} else {
			finalYear = fallbackYear
		}
	}

	e.mu.Lock()
	e.state.ScoreYears = table.Years
	e.state.SelectedYear = finalYear
	e.state.SelectedSemester = targetSemester
	e.state.Scores = items
	e.state.GPAInfo = table.GPA
	e.mu.Unlock()

	if err := e.store.SetMany(map[string]string{
		keyScoreYear:     finalYear,
		keyScoreSemester: strconv.Itoa(targetSemester),
	}); err != nil {
		e.log.Error().Err(err).Msg("persisting score selection failed")
	}

	// One self-correcting refetch when the provider told us the real years.
	if allowRefetch && targetYear == "" && len(table.Years) > 0 {
		return e.fetchScore(ctx, finalYear, targetSemester, false)
	}
	return nil
}
