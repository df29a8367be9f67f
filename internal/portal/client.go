// Package portal talks to the university web system behind the webvpn
// gateway: the scrape-solve-submit login flow against the HTML login page,
// a lightweight session probe, and the authenticated JSON data endpoints.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shsmu-sync/internal/crypto"
	"shsmu-sync/internal/domain"
	"shsmu-sync/internal/httpx"
)

const (
	// sessionMarker appears in every page that still shows the login box;
	// its absence is the success criterion for both probe and login.
	sessionMarker = "login_box"

	// vpnMarker is the gateway's routing parameter; it must be the first
	// query component of every data request, exactly as the web UI sends it.
	vpnMarker = "vpn-12-o2-jwstu.shsmu.edu.cn"

	jsonAccept = "application/json, text/javascript, */*; q=0.01"

	maxLoginAttempts = 5
)

// Solver is the captcha capability the login loop consumes.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// CookieClearer lets the login loop force a fresh session token per attempt.
type CookieClearer interface {
	Clear()
}

// Options wires a Client. HTTP must carry the persistent cookie jar.
type Options struct {
	BaseURL  string
	LoginURL string
	HomeURL  string
	HTTP     *http.Client
	Jar      CookieClearer
	Solver   Solver
	Logger   zerolog.Logger
}

// Client is the portal HTTP client. One instance per account/process; all
// methods are safe to call from concurrent workers because the shared state
// (cookies) lives in the lock-protected jar.
type Client struct {
	baseURL  string
	loginURL string
	homeURL  string
	http     *http.Client
	jar      CookieClearer
	solver   Solver
	log      zerolog.Logger
}

func New(opts Options) *Client {
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		loginURL: opts.LoginURL,
		homeURL:  strings.TrimRight(opts.HomeURL, "/"),
		http:     opts.HTTP,
		jar:      opts.Jar,
		solver:   opts.Solver,
		log:      opts.Logger,
	}
}

// CheckSessionValid probes the portal with the existing cookies. It mutates
// nothing; any transport failure just reads as "not logged in".
func (c *Client) CheckSessionValid(ctx context.Context) bool {
	body, err := c.get(ctx, c.loginURL, "")
	if err != nil {
		c.log.Debug().Err(err).Msg("session probe failed")
		return false
	}
	return !bytes.Contains(body, []byte(sessionMarker))
}

// AutoLogin runs the full scrape-solve-submit flow, at most five attempts.
// Captcha solve failures burn an attempt (the portal answer was probably
// wrong); network, form and crypto failures abort immediately. Exhausting
// the budget returns ErrCredentialsRejected.
func (c *Client) AutoLogin(ctx context.Context, username, password, publicKeyPEM string) error {
	encrypted, err := crypto.EncryptPassword(password, publicKeyPEM)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}

	loginURL := c.loginURL
	for attempt := 1; attempt <= maxLoginAttempts; attempt++ {
		// Fresh session token per attempt.
		c.jar.Clear()
		c.log.Info().Int("attempt", attempt).Str("url", loginURL).Msg("starting login attempt")

		page, err := c.get(ctx, loginURL, "")
		if err != nil {
			return fmt.Errorf("fetch login page: %w", err)
		}

		form, err := ParseLoginForm(page, loginURL)
		if err != nil {
			return err
		}

		captchaURL := form.CaptchaURL
		if captchaURL == "" {
			// Conventional endpoint when the DOM hides the image.
			captchaURL = c.baseURL + "/captcha.jpg?vpn-1"
		}
		image, err := c.get(ctx, captchaURL, "")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCaptchaDownload, err)
		}

		answer, err := c.solver.Solve(ctx, image)
		if err != nil {
			c.log.Warn().Int("attempt", attempt).Err(err).Msg("captcha solve failed")
			if attempt == maxLoginAttempts {
				return fmt.Errorf("%w: %v", ErrCaptchaUnsolvable, err)
			}
			continue
		}
		c.log.Debug().Str("answer", answer).Msg("captcha solved")

		form.Fields.Set("username", username)
		form.Fields.Set("password", encrypted)
		form.Fields.Set("authcode", answer)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, form.SubmitURL, strings.NewReader(form.Fields.Encode()))
		if err != nil {
			return fmt.Errorf("build submit request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		_, body, err := httpx.Do(ctx, c.http, req)
		if err != nil {
			return fmt.Errorf("submit credentials: %w", err)
		}

		if !bytes.Contains(body, []byte(sessionMarker)) {
			c.log.Info().Int("attempt", attempt).Msg("login succeeded")
			return nil
		}

		// The portal may have answered with an intermediate redirect page;
		// treat the submit URL as the next login URL and go around.
		loginURL = form.SubmitURL
	}

	return ErrCredentialsRejected
}

// GetCurriculum fetches the course table for [start, end] (inclusive dates).
func (c *Client) GetCurriculum(ctx context.Context, start, end time.Time) (*domain.CurriculumTable, error) {
	u := fmt.Sprintf("%s/Home/GetCurriculumTable?%s&Start=%s&End=%s",
		c.homeURL, vpnMarker, start.Format(domain.DateLayout), end.Format(domain.DateLayout))

	var table domain.CurriculumTable
	if err := c.getJSON(ctx, u, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// GetScore fetches the score sheet for one academic year and semester.
func (c *Client) GetScore(ctx context.Context, grade string, semester int) (*ScoreTable, error) {
	u := fmt.Sprintf("%s/Score/GetStuYearScore?%s&Grade=%s&Semester=%d",
		c.homeURL, vpnMarker, url.QueryEscape(grade), semester)

	var table ScoreTable
	if err := c.getJSON(ctx, u, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// GetCourseDetail fetches the calendar detail rows for one course.
func (c *Client) GetCourseDetail(ctx context.Context, ids domain.CourseIDs, courseType string) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("MCSID", ids.MCSID)
	q.Set("CSID", strconv.Itoa(ids.CSID))
	q.Set("CurriculumID", strconv.Itoa(ids.CurriculumID))
	q.Set("XXKMID", ids.XXKMID)
	q.Set("CurriculumType", courseType)

	u := fmt.Sprintf("%s/Home/GetCalendarTable?%s&%s", c.homeURL, vpnMarker, q.Encode())

	var rows []json.RawMessage
	if err := c.getJSON(ctx, u, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	_, body, err := httpx.Do(ctx, c.http, req)
	return body, err
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	c.log.Debug().Str("url", rawURL).Msg("requesting")

	body, err := c.get(ctx, rawURL, jsonAccept)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("portal: decode %s: %w body=%s", rawURL, err, httpx.Snippet(body, 300))
	}
	return nil
}
