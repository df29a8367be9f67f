package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shsmu-sync/internal/captcha"
	"shsmu-sync/internal/config"
	"shsmu-sync/internal/cookiejar"
	"shsmu-sync/internal/domain"
	"shsmu-sync/internal/portal"
	"shsmu-sync/internal/store"
	"shsmu-sync/internal/syncer"
)

var (
	flagConfig  string
	flagVerbose bool

	flagDate     string
	flagYear     string
	flagSemester int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "shsmusync",
	Short:         "Sync curriculum and scores from the university portal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config.toml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	curriculumCmd.Flags().StringVar(&flagDate, "date", "", "any date inside the week to show (YYYY-MM-DD, default today)")
	scoreCmd.Flags().StringVar(&flagYear, "year", "", "academic year, e.g. 2025-2026 (default: last selection)")
	scoreCmd.Flags().IntVar(&flagSemester, "semester", 0, "semester, 1 or 2 (default: last selection)")

	rootCmd.AddCommand(loginCmd, sessionCmd, curriculumCmd, scoreCmd, detailCmd, refreshCmd, logoutCmd)
}

// app holds everything a command needs, wired once per invocation.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	store  *store.Store
	portal *portal.Client
	engine *syncer.Engine
}

func newApp() (*app, error) {
	// Local .env for development setups; absence is fine.
	_ = godotenv.Load()

	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	jar := cookiejar.New(st, log)

	solver := captcha.NewSolver(captcha.TesseractRecognizer{Binary: cfg.TesseractBin}, log)

	client := portal.New(portal.Options{
		BaseURL:  cfg.BaseURL,
		LoginURL: cfg.LoginURL,
		HomeURL:  cfg.HomeURL,
		HTTP:     newHTTPClient(jar, cfg.Timeout()),
		Jar:      jar,
		Solver:   solver,
		Logger:   log,
	})

	publicKey, err := os.ReadFile(cfg.PubkeyPath)
	if err != nil {
		// Only login needs the key; report it there, not here.
		log.Debug().Str("path", cfg.PubkeyPath).Msg("public key not readable")
		publicKey = nil
	}

	engine := syncer.New(client, st, jar, string(publicKey), log)

	return &app{cfg: cfg, log: log, store: st, portal: client, engine: engine}, nil
}

func (a *app) close() { a.store.Close() }

// start restores the persisted cache and re-establishes the session when
// credentials were saved.
func (a *app) start(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	if !a.engine.Snapshot().LoggedIn {
		return errors.New("not logged in, run `shsmusync login` first")
	}
	return nil
}

func (a *app) flushMessage() {
	if msg := a.engine.Snapshot().UserMessage; msg != "" {
		fmt.Println(msg)
		a.engine.ClearMessage()
	}
}

func runContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}

var loginCmd = &cobra.Command{
	Use:   "login [student-id]",
	Short: "Log in and save the session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		username := ""
		if len(args) == 1 {
			username = args[0]
		} else {
			fmt.Print("Student ID: ")
			if _, err := fmt.Scanln(&username); err != nil {
				return fmt.Errorf("read student id: %w", err)
			}
		}

		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		ctx, cancel := runContext()
		defer cancel()

		err = a.engine.Login(ctx, strings.TrimSpace(username), string(raw))
		a.flushMessage()
		return err
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Check whether the saved session is still valid",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := runContext()
		defer cancel()

		if a.portal.CheckSessionValid(ctx) {
			fmt.Println("session is valid")
			return nil
		}
		fmt.Println("session has expired")
		return nil
	},
}

var curriculumCmd = &cobra.Command{
	Use:   "curriculum",
	Short: "Show the course table for one week",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := runContext()
		defer cancel()
		if err := a.start(ctx); err != nil {
			return err
		}

		date := time.Now()
		if flagDate != "" {
			date, err = time.Parse(domain.DateLayout, flagDate)
			if err != nil {
				return fmt.Errorf("bad --date: %w", err)
			}
		}

		if err := a.engine.OnWeekPageChanged(ctx, date); err != nil {
			a.flushMessage()
			return err
		}

		weekStart, weekEnd := weekBounds(date)
		fmt.Printf("Week of %s\n", weekStart.Format(domain.DateLayout))
		shown := 0
		for _, c := range a.engine.Snapshot().Courses {
			if c.Start.Before(weekStart) || !c.Start.Before(weekEnd) {
				continue
			}
			fmt.Printf("%3d  %s %s-%s  %-30s %s\n",
				shown,
				c.Start.Format("Mon 01-02"),
				c.Start.Format("15:04"),
				c.End.Format("15:04"),
				c.Title,
				c.Location)
			shown++
		}
		if shown == 0 {
			fmt.Println("no courses this week")
		}
		return nil
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Show the score sheet for one semester",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := runContext()
		defer cancel()
		if err := a.start(ctx); err != nil {
			return err
		}

		if err := a.engine.FetchScoreData(ctx, flagYear, flagSemester); err != nil {
			a.flushMessage()
			return err
		}

		s := a.engine.Snapshot()
		fmt.Printf("%s semester %d", s.SelectedYear, s.SelectedSemester)
		if len(s.ScoreYears) > 0 {
			fmt.Printf("  (available: %s)", strings.Join(s.ScoreYears, ", "))
		}
		fmt.Println()

		for _, row := range s.Scores {
			mark := " "
			if row.Irregular() {
				mark = "!"
			}
			makeup := ""
			if row.MakeupScore > 0 {
				makeup = fmt.Sprintf(" (makeup %.1f)", row.MakeupScore)
			}
			fmt.Printf("%s %-30s %6.1f%s  %-3s %.1f credits\n",
				mark, row.CourseName, row.Score, makeup, row.LetterGrade, row.Credit)
		}
		if s.GPAInfo != "" {
			fmt.Println(s.GPAInfo)
		}
		return nil
	},
}

var detailCmd = &cobra.Command{
	Use:   "detail <index>",
	Short: "Show the raw calendar detail of a cached course (index from `curriculum`)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := runContext()
		defer cancel()
		if err := a.start(ctx); err != nil {
			return err
		}

		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad index %q", args[0])
		}
		courses := a.engine.Snapshot().Courses
		if idx < 0 || idx >= len(courses) {
			return fmt.Errorf("index %d out of range (%d cached courses)", idx, len(courses))
		}
		course := courses[idx]

		rows, err := a.portal.GetCourseDetail(ctx, course.IDs, course.Type)
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n", course.Title, course.Type)
		for _, row := range rows {
			fmt.Println(string(row))
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refetch curriculum and scores for the months around today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := runContext()
		defer cancel()
		if err := a.start(ctx); err != nil {
			return err
		}

		if err := a.engine.RefreshAllData(ctx); err != nil {
			a.flushMessage()
			return err
		}

		s := a.engine.Snapshot()
		fmt.Printf("cached %d courses (%s to %s), %d score rows\n",
			len(s.Courses),
			s.RangeStart.Format(domain.DateLayout),
			s.RangeEnd.Format(domain.DateLayout),
			len(s.Scores))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the saved session, credentials and cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		a.engine.Logout()
		fmt.Println("logged out")
		return nil
	},
}

func newHTTPClient(jar http.CookieJar, timeout time.Duration) *http.Client {
	return &http.Client{Jar: jar, Timeout: timeout}
}

// weekBounds returns the Monday 00:00 of date's week and the Monday after.
func weekBounds(t time.Time) (time.Time, time.Time) {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(d.Weekday()) + 6) % 7
	start := d.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}
