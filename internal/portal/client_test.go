package portal

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"shsmu-sync/internal/domain"
	"shsmu-sync/internal/httpx"
)

type solverFunc func(ctx context.Context, image []byte) (string, error)

func (f solverFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

type jarStub struct {
	mu     sync.Mutex
	clears int
}

func (j *jarStub) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.clears++
}

// mockPortal emulates the gateway: login page, captcha image, credential
// submit and the JSON data endpoints.
type mockPortal struct {
	mu        sync.Mutex
	succeedOn int // POST attempt that clears the login box; 0 = never
	posts     int
	lastForm  url.Values
}

func (m *mockPortal) handler() http.Handler {
	mux := http.NewServeMux()
	loginPage := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="login_box">
<form action="/cas/submit" method="post">
<input type="hidden" name="__token" value="tok-1">
<input type="text" name="username" value="">
<input type="password" name="password" value="">
<input type="text" name="authcode" value="">
<input type="submit" name="go" value="Login">
</form>
<img src="/cas/captcha.jpg" alt="">
</div></body></html>`)
	}
	mux.HandleFunc("GET /cas/login", loginPage)
	mux.HandleFunc("GET /cas/submit", loginPage) // intermediate-page retries re-fetch here
	mux.HandleFunc("GET /cas/captcha.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-png-bytes"))
	})
	mux.HandleFunc("POST /cas/submit", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.posts++
		m.lastForm = r.PostForm
		done := m.succeedOn > 0 && m.posts >= m.succeedOn
		m.mu.Unlock()
		if done {
			fmt.Fprint(w, "<html><body>Welcome</body></html>")
			return
		}
		fmt.Fprint(w, `<html><body><div class="login_box">try again</div></body></html>`)
	})
	return mux
}

func testClient(t *testing.T, srv *httptest.Server, solver Solver) (*Client, *jarStub) {
	t.Helper()
	jar := &jarStub{}
	c := New(Options{
		BaseURL:  srv.URL + "/cas",
		LoginURL: srv.URL + "/cas/login",
		HomeURL:  srv.URL,
		HTTP:     srv.Client(),
		Jar:      jar,
		Solver:   solver,
		Logger:   zerolog.Nop(),
	})
	return c, jar
}

func testPubKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestAutoLoginExhaustsFiveAttempts(t *testing.T) {
	portal := &mockPortal{succeedOn: 0}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	_, pubPEM := testPubKey(t)
	c, jar := testClient(t, srv, solverFunc(func(context.Context, []byte) (string, error) {
		return "12", nil
	}))

	err := c.AutoLogin(context.Background(), "2301110123", "pwd", pubPEM)
	require.ErrorIs(t, err, ErrCredentialsRejected)
	require.Equal(t, 5, portal.posts)
	require.Equal(t, 5, jar.clears) // cookies cleared before every attempt
}

func TestAutoLoginSucceedsOnThirdAttempt(t *testing.T) {
	portal := &mockPortal{succeedOn: 3}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	key, pubPEM := testPubKey(t)
	c, _ := testClient(t, srv, solverFunc(func(context.Context, []byte) (string, error) {
		return "12", nil
	}))

	err := c.AutoLogin(context.Background(), "2301110123", "s3cret", pubPEM)
	require.NoError(t, err)
	require.Equal(t, 3, portal.posts)

	// The submitted form carries the scraped token, the solved captcha and
	// the RSA-encrypted password.
	require.Equal(t, "tok-1", portal.lastForm.Get("__token"))
	require.Equal(t, "12", portal.lastForm.Get("authcode"))
	require.Equal(t, "2301110123", portal.lastForm.Get("username"))

	raw, err := base64.StdEncoding.DecodeString(portal.lastForm.Get("password"))
	require.NoError(t, err)
	plain, err := rsa.DecryptPKCS1v15(nil, key, raw)
	require.NoError(t, err)
	require.Equal(t, "s3cret", string(plain))
}

func TestAutoLoginCaptchaFailureBurnsAttempt(t *testing.T) {
	portal := &mockPortal{succeedOn: 1}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	_, pubPEM := testPubKey(t)
	solves := 0
	c, _ := testClient(t, srv, solverFunc(func(context.Context, []byte) (string, error) {
		solves++
		if solves == 1 {
			return "", errors.New("ocr produced garbage")
		}
		return "7", nil
	}))

	err := c.AutoLogin(context.Background(), "u", "p", pubPEM)
	require.NoError(t, err)
	require.Equal(t, 2, solves)
	require.Equal(t, 1, portal.posts) // first attempt never reached the POST
}

func TestAutoLoginUnsolvableCaptcha(t *testing.T) {
	portal := &mockPortal{succeedOn: 1}
	srv := httptest.NewServer(portal.handler())
	defer srv.Close()

	_, pubPEM := testPubKey(t)
	c, _ := testClient(t, srv, solverFunc(func(context.Context, []byte) (string, error) {
		return "", errors.New("hopeless")
	}))

	err := c.AutoLogin(context.Background(), "u", "p", pubPEM)
	require.ErrorIs(t, err, ErrCaptchaUnsolvable)
	require.Zero(t, portal.posts)
}

func TestAutoLoginBadPublicKey(t *testing.T) {
	srv := httptest.NewServer((&mockPortal{}).handler())
	defer srv.Close()

	c, _ := testClient(t, srv, solverFunc(func(context.Context, []byte) (string, error) {
		return "1", nil
	}))

	err := c.AutoLogin(context.Background(), "u", "p", "garbage")
	require.Error(t, err)
}

func TestCheckSessionValid(t *testing.T) {
	loggedIn := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if loggedIn {
			fmt.Fprint(w, "<html><body>dashboard</body></html>")
			return
		}
		fmt.Fprint(w, `<html><body><div class="login_box"></div></body></html>`)
	}))
	defer srv.Close()

	c := New(Options{
		LoginURL: srv.URL + "/cas/login",
		HTTP:     srv.Client(),
		Jar:      &jarStub{},
		Logger:   zerolog.Nop(),
	})

	require.False(t, c.CheckSessionValid(context.Background()))
	loggedIn = true
	require.True(t, c.CheckSessionValid(context.Background()))
}

func TestGetCurriculum(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Home/GetCurriculumTable", r.URL.Path)
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"List":[{"Curriculum":"药理学","CurriculumType":"理论课","CourseCount":2,"Classroom":"东一&nbsp;201","Start":"2026-03-02 08:00:00","End":"2026-03-02 09:40:00"}]}`)
	}))
	defer srv.Close()

	c := New(Options{HomeURL: srv.URL, HTTP: srv.Client(), Jar: &jarStub{}, Logger: zerolog.Nop()})

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	table, err := c.GetCurriculum(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, table.List, 1)
	require.Equal(t, "药理学", table.List[0].Curriculum)

	require.Contains(t, gotQuery, "vpn-12-o2-jwstu.shsmu.edu.cn")
	require.Contains(t, gotQuery, "Start=2026-03-02")
	require.Contains(t, gotQuery, "End=2026-03-08")
}

func TestGetCurriculumEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "  ")
	}))
	defer srv.Close()

	c := New(Options{HomeURL: srv.URL, HTTP: srv.Client(), Jar: &jarStub{}, Logger: zerolog.Nop()})

	_, err := c.GetCurriculum(context.Background(), time.Now(), time.Now())
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGetScore(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Score/GetStuYearScore", r.URL.Path)
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"1":["2024-2025","2025-2026"],"2":[[{"CurriculumName":"药理学","Score":88.5,"FScore":0,"AchievementGrade":"B+","Credit":3.5,"ExaminationSituationStr":"正常","Semester":1}]],"4":"GPA: 3.62"}`)
	}))
	defer srv.Close()

	c := New(Options{HomeURL: srv.URL, HTTP: srv.Client(), Jar: &jarStub{}, Logger: zerolog.Nop()})

	table, err := c.GetScore(context.Background(), "2025-2026", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-2025", "2025-2026"}, table.Years)
	require.Len(t, table.Rows, 1)
	require.Equal(t, "药理学", table.Rows[0][0].CurriculumName)
	require.Equal(t, "GPA: 3.62", table.GPA)

	require.Contains(t, gotQuery, "Grade=2025-2026")
	require.Contains(t, gotQuery, "Semester=1")
}

func TestGetScoreHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Options{HomeURL: srv.URL, HTTP: srv.Client(), Jar: &jarStub{}, Logger: zerolog.Nop()})

	_, err := c.GetScore(context.Background(), "2025-2026", 1)
	var herr *httpx.HTTPError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, http.StatusUnauthorized, herr.StatusCode)
}

func TestGetCourseDetail(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Home/GetCalendarTable", r.URL.Path)
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `[{"Week":1},{"Week":2}]`)
	}))
	defer srv.Close()

	c := New(Options{HomeURL: srv.URL, HTTP: srv.Client(), Jar: &jarStub{}, Logger: zerolog.Nop()})

	rows, err := c.GetCourseDetail(context.Background(), domain.CourseIDs{
		MCSID:        "MCS-9",
		CSID:         12,
		CurriculumID: 77,
		XXKMID:       "XK-3",
	}, "理论课")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "MCS-9", gotQuery.Get("MCSID"))
	require.Equal(t, "12", gotQuery.Get("CSID"))
	require.Equal(t, "77", gotQuery.Get("CurriculumID"))
	require.Equal(t, "XK-3", gotQuery.Get("XXKMID"))
	require.Equal(t, "理论课", gotQuery.Get("CurriculumType"))
}
