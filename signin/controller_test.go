package signin

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signin-automation/auth"
	"signin-automation/captcha"
	"signin-automation/captcha/captchatest"
)

type fakeAuth struct {
	res   *auth.LoginResult
	err   error
	calls int
}

func (f *fakeAuth) Login(ctx context.Context, page auth.Page) (*auth.LoginResult, error) {
	f.calls++
	return f.res, f.err
}

type scriptedSolver struct {
	results []captcha.Result
	onRun   func(n int)
	panics  bool
	calls   int
}

func (s *scriptedSolver) Run(ctx context.Context) captcha.Result {
	s.calls++
	if s.panics {
		panic("nil element")
	}
	if s.onRun != nil {
		s.onRun(s.calls)
	}
	i := s.calls - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

type countingPacer struct {
	calls int
	err   error
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.calls++
	return p.err
}

func solved() captcha.Result {
	return captcha.Result{RunID: "run-1", Outcome: captcha.OutcomeSolved, Attempts: 1}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://example.test/"
	cfg.Username = "alice"
	cfg.Location = time.UTC
	cfg.PostSolveDelay = 0
	cfg.PageSettleDelay = 0
	return cfg
}

// sitePage serves dashboard data on /dashboard and statistics on /signin.
func sitePage() *captchatest.FakePage {
	page := captchatest.NewFakePage()
	page.OnNavigate = func(p *captchatest.FakePage, url string) {
		switch {
		case strings.HasSuffix(url, "/dashboard"):
			p.EvalResult = map[string]interface{}{
				"apiLink":    "https://example.test/api/abc",
				"expireTime": "2026-03-11 12:00:00",
			}
		case strings.HasSuffix(url, "/signin"):
			p.EvalResult = map[string]interface{}{
				"todayCount":     "1",
				"continuousDays": "12",
			}
		}
	}
	return page
}

func newTestController(page Page, login Authenticator, solver CaptchaRunner) *Controller {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := NewController(testConfig(), page, login, solver, logger)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestRunSuccess(t *testing.T) {
	page := sitePage()
	solver := &scriptedSolver{
		results: []captcha.Result{solved()},
		onRun: func(n int) {
			page.SetContent("<div>签到成功</div>")
		},
	}
	login := &fakeAuth{res: &auth.LoginResult{Success: true}}

	report := newTestController(page, login, solver).Run(context.Background())

	assert.Equal(t, StatusSuccess, report.Status)
	assert.True(t, report.LoggedIn)
	assert.Equal(t, "https://example.test/api/abc", report.APILink)
	assert.Equal(t, "2026-03-11 12:00:00", report.ExpireTime)
	assert.Equal(t, "11", report.RemainingDays)
	assert.Equal(t, "1", report.TodayCount)
	assert.Equal(t, "12", report.ContinuousDays)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "solved", report.CaptchaOutcome)
	assert.Equal(t, 1, solver.calls)
	assert.Equal(t, []string{
		"https://example.test/dashboard",
		"https://example.test/signin",
		"https://example.test/signin",
	}, page.Visits())
}

func TestSignInTitleMarker(t *testing.T) {
	page := sitePage()
	page.SetText(".signin-action-title", "今日已签到")
	solver := &scriptedSolver{results: []captcha.Result{solved()}}

	status, _, err := newTestController(page, &fakeAuth{}, solver).SignIn(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
}

func TestSignInAlreadySigned(t *testing.T) {
	page := sitePage()
	page.SetContent("<p>您今天已经签到过了</p>")
	solver := &scriptedSolver{results: []captcha.Result{{Outcome: captcha.OutcomeSolved, Attempts: 1}}}

	status, _, err := newTestController(page, &fakeAuth{}, solver).SignIn(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusAlreadySigned, status)
	assert.Equal(t, 1, solver.calls)
}

func TestSignInUnknownAfterAllAttempts(t *testing.T) {
	page := sitePage()
	solver := &scriptedSolver{results: []captcha.Result{{Outcome: captcha.OutcomeIndeterminate, Attempts: 1}}}
	pacer := &countingPacer{}

	c := newTestController(page, &fakeAuth{}, solver)
	c.SetReloadPacer(pacer)
	status, last, err := c.SignIn(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)
	assert.Equal(t, captcha.OutcomeIndeterminate, last.Outcome)
	assert.Equal(t, 3, solver.calls)
	assert.Equal(t, 2, page.Reloads())
	assert.Equal(t, 2, pacer.calls)
}

func TestSignInRetriesAfterExhaustedCaptcha(t *testing.T) {
	page := sitePage()
	solver := &scriptedSolver{
		results: []captcha.Result{
			{Outcome: captcha.OutcomeUnsolved, Exhausted: true, Attempts: 3},
			solved(),
		},
		onRun: func(n int) {
			if n == 2 {
				page.SetContent("签到成功")
			}
		},
	}

	status, _, err := newTestController(page, &fakeAuth{}, solver).SignIn(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, 2, solver.calls)
	assert.Equal(t, 1, page.Reloads())
}

func TestSignInStopsWhenHalted(t *testing.T) {
	page := sitePage()
	solver := &scriptedSolver{results: []captcha.Result{{Outcome: captcha.OutcomeUnsolved, Halted: true, Attempts: 1}}}

	status, _, err := newTestController(page, &fakeAuth{}, solver).SignIn(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)
	assert.Equal(t, 1, solver.calls)
	assert.Zero(t, page.Reloads())
}

func TestSignInStopsWhenReloadDenied(t *testing.T) {
	page := sitePage()
	solver := &scriptedSolver{results: []captcha.Result{{Outcome: captcha.OutcomeIndeterminate, Attempts: 1}}}

	c := newTestController(page, &fakeAuth{}, solver)
	c.SetReloadPacer(&countingPacer{err: errors.New("daily limit exceeded for reload")})
	status, _, err := c.SignIn(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)
	assert.Equal(t, 1, solver.calls)
	assert.Zero(t, page.Reloads())
}

func TestRunLoginErrorIsReported(t *testing.T) {
	page := sitePage()
	solver := &scriptedSolver{results: []captcha.Result{solved()}}
	login := &fakeAuth{err: errors.New("failed to open login page: timeout")}

	report := newTestController(page, login, solver).Run(context.Background())

	assert.Equal(t, StatusError, report.Status)
	assert.Contains(t, report.StatusLine(), "timeout")
	assert.Zero(t, solver.calls)
	assert.Equal(t, "未知", report.APILink)
}

func TestRunRecoversFromPanic(t *testing.T) {
	page := sitePage()
	solver := &scriptedSolver{panics: true}

	report := newTestController(page, &fakeAuth{res: &auth.LoginResult{}}, solver).Run(context.Background())

	assert.Equal(t, StatusError, report.Status)
	assert.Contains(t, report.StatusLine(), "nil element")
	// dashboard data read before the panic is kept
	assert.Equal(t, "https://example.test/api/abc", report.APILink)
}

func TestSignInSavesScreenshot(t *testing.T) {
	dir := t.TempDir()
	page := sitePage()
	page.SetScreenshot("", []byte("png-bytes"))
	page.SetContent("签到成功")
	solver := &scriptedSolver{results: []captcha.Result{solved()}}

	c := newTestController(page, &fakeAuth{}, solver)
	c.cfg.ScreenshotDir = dir
	_, _, err := c.SignIn(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "signin_page.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}
