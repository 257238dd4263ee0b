package signin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"signin-automation/auth"
	"signin-automation/captcha"
)

// Page is the browser surface the sign-in flow drives.
type Page interface {
	captcha.Page
	Navigate(ctx context.Context, url string) error
	Text(ctx context.Context, selector string) (string, error)
	Input(ctx context.Context, selector, text string) error
	Type(ctx context.Context, selector, text string) error
	URL(ctx context.Context) (string, error)
}

// Authenticator logs the page in.
type Authenticator interface {
	Login(ctx context.Context, page auth.Page) (*auth.LoginResult, error)
}

// CaptchaRunner runs the captcha verification loop on the current page.
type CaptchaRunner interface {
	Run(ctx context.Context) captcha.Result
}

// Controller runs login, dashboard scraping, the captcha-guarded sign-in and
// the statistics read on a single page.
type Controller struct {
	cfg     Config
	page    Page
	login   Authenticator
	solver  CaptchaRunner
	reloads captcha.Pacer
	logger  *logrus.Logger
	now     func() time.Time
}

// NewController creates a controller.
func NewController(cfg Config, page Page, login Authenticator, solver CaptchaRunner, logger *logrus.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		page:   page,
		login:  login,
		solver: solver,
		logger: logger,
		now:    time.Now,
	}
}

// SetReloadPacer gates the reloads between sign-in checks.
func (c *Controller) SetReloadPacer(p captcha.Pacer) {
	c.reloads = p
}

// Run performs the whole flow and always returns a report. Failures, panics
// included, end up in the report's status line.
func (c *Controller) Run(ctx context.Context) (report *Report) {
	report = NewReport(c.cfg.ReportTitle, c.cfg.Username, c.now(), c.cfg.location())

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("Sign-in run panicked")
			report.SetError(fmt.Errorf("%v", r))
		}
	}()

	if err := c.run(ctx, report); err != nil {
		c.logger.WithError(err).Error("Sign-in run failed")
		report.SetError(err)
	}
	return report
}

func (c *Controller) run(ctx context.Context, report *Report) error {
	res, err := c.login.Login(ctx, c.page)
	if err != nil {
		return err
	}
	report.LoggedIn = res.Success

	c.readDashboard(ctx, report)

	status, result, err := c.SignIn(ctx)
	if err != nil {
		return err
	}
	report.Status = status
	report.RunID = result.RunID
	report.CaptchaOutcome = result.Outcome.String()
	report.CaptchaTries = result.Attempts

	c.collectStats(ctx, report)
	return nil
}

func (c *Controller) readDashboard(ctx context.Context, report *Report) {
	c.logger.Info("Reading dashboard")
	if err := c.open(ctx, c.cfg.DashboardPath); err != nil {
		c.logger.WithError(err).Warn("Failed to open dashboard")
		return
	}

	info, err := ReadDashboard(ctx, c.page)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read dashboard")
		return
	}
	for _, msg := range info.Debug {
		c.logger.WithField("source", "dashboard").Debug(msg)
	}

	if info.APILink != "" {
		report.APILink = info.APILink
	} else {
		c.logger.Info("API link not found")
	}
	if info.ExpireTime == "" {
		c.logger.Info("Expire time not found")
		return
	}
	report.ExpireTime = info.ExpireTime
	days, err := RemainingDays(info.ExpireTime, c.now(), c.cfg.location())
	if err != nil {
		c.logger.WithError(err).Warn("Failed to compute remaining days")
		return
	}
	report.SetRemainingDays(days)
	c.logger.WithFields(logrus.Fields{
		"expire_time":    info.ExpireTime,
		"remaining_days": days,
	}).Info("Dashboard read")
}

// SignIn opens the sign-in page and repeats the captcha run until the page
// shows a definitive marker or the attempts run out. The last captcha result
// is returned alongside the status.
func (c *Controller) SignIn(ctx context.Context) (Status, captcha.Result, error) {
	if err := c.open(ctx, c.cfg.SigninPath); err != nil {
		return StatusUnknown, captcha.Result{}, err
	}
	c.saveScreenshot(ctx, "signin_page.png")

	maxAttempts := c.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last captcha.Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     maxAttempts,
		}).Info("Sign-in attempt")

		last = c.solver.Run(ctx)
		if last.Halted {
			c.logger.Warn("Sign-in button not found, stopping")
			break
		}

		if last.Outcome.Accepted() {
			if err := sleep(ctx, c.cfg.PostSolveDelay); err != nil {
				return StatusUnknown, last, err
			}
			if status, ok := c.check(ctx); ok {
				c.logger.WithField("status", string(status)).Info("Sign-in status detected")
				return status, last, nil
			}
			c.logger.Info("No sign-in marker yet")
		} else {
			c.logger.WithField("captcha_attempts", last.Attempts).Warn("Captcha not solved")
		}

		if attempt < maxAttempts {
			if err := c.reload(ctx); err != nil {
				c.logger.WithError(err).Warn("Reload not possible, stopping")
				break
			}
		}
	}

	c.logger.Warn("Sign-in status unknown")
	return StatusUnknown, last, nil
}

func (c *Controller) check(ctx context.Context) (Status, bool) {
	title := ""
	if has, err := c.page.Has(ctx, c.cfg.TitleSelector); err == nil && has {
		if t, err := c.page.Text(ctx, c.cfg.TitleSelector); err == nil {
			title = t
		} else {
			c.logger.WithError(err).Debug("Failed to read action title")
		}
	}
	content, err := c.page.Content(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Failed to read page content")
	}
	return Classify(title, content)
}

func (c *Controller) reload(ctx context.Context) error {
	if c.reloads != nil {
		if err := c.reloads.Wait(ctx); err != nil {
			return err
		}
	}
	if err := c.page.Reload(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to reload page")
	}
	return sleep(ctx, c.cfg.PageSettleDelay)
}

func (c *Controller) collectStats(ctx context.Context, report *Report) {
	c.logger.Info("Reading sign-in statistics")
	if err := c.open(ctx, c.cfg.SigninPath); err != nil {
		c.logger.WithError(err).Warn("Failed to reopen sign-in page")
		return
	}

	stats, err := ReadStats(ctx, c.page)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read sign-in statistics")
		return
	}
	for _, msg := range stats.Debug {
		c.logger.WithField("source", "stats").Debug(msg)
	}
	if stats.TodayCount != "" {
		report.TodayCount = stats.TodayCount
	}
	if stats.ContinuousDays != "" {
		report.ContinuousDays = stats.ContinuousDays
	}
	c.logger.WithFields(logrus.Fields{
		"today_count":     report.TodayCount,
		"continuous_days": report.ContinuousDays,
	}).Info("Sign-in statistics read")
}

func (c *Controller) open(ctx context.Context, path string) error {
	if err := c.page.Navigate(ctx, c.cfg.url(path)); err != nil {
		return err
	}
	return sleep(ctx, c.cfg.PageSettleDelay)
}

func (c *Controller) saveScreenshot(ctx context.Context, name string) {
	if c.cfg.ScreenshotDir == "" {
		return
	}
	data, err := c.page.Screenshot(ctx, "")
	if err != nil {
		c.logger.WithError(err).Debug("Failed to take screenshot")
		return
	}
	if err := os.MkdirAll(c.cfg.ScreenshotDir, 0755); err != nil {
		c.logger.WithError(err).Debug("Failed to create screenshot directory")
		return
	}
	path := filepath.Join(c.cfg.ScreenshotDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		c.logger.WithError(err).Debug("Failed to save screenshot")
		return
	}
	c.logger.WithField("path", path).Debug("Screenshot saved")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
