package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// Options controls how the browser is launched.
type Options struct {
	Headless       bool
	BinPath        string
	UserDataDir    string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// ActionTimeout bounds every page primitive that has no explicit wait.
	ActionTimeout time.Duration
	// NavigationTimeout bounds navigation and load waits.
	NavigationTimeout time.Duration
}

// DefaultOptions mirrors the desktop profile the site was tuned against.
func DefaultOptions() Options {
	return Options{
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:     1280,
		ViewportHeight:    800,
		ActionTimeout:     10 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

// Session owns one browser process for the lifetime of a run.
type Session struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
	logger   *logrus.Logger

	closeOnce sync.Once
	closeErr  error
}

// Launch starts a browser and connects to it.
func Launch(opts Options, logger *logrus.Logger) (*Session, error) {
	logger.WithField("headless", opts.Headless).Info("Initializing browser")

	// leakless trips some antivirus products
	l := launcher.New().
		Leakless(false).
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-dev-shm-usage").
		Set("disable-popup-blocking")

	if opts.BinPath != "" {
		l = l.Bin(opts.BinPath)
	}
	if opts.UserAgent != "" {
		l = l.Set("user-agent", opts.UserAgent)
	}
	if opts.UserDataDir != "" {
		if err := os.MkdirAll(opts.UserDataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create user data directory: %w", err)
		}
		l = l.UserDataDir(opts.UserDataDir)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	logger.Info("Browser initialized successfully")
	return &Session{browser: b, launcher: l, opts: opts, logger: logger}, nil
}

// NewPage opens a blank tab with the configured user agent and viewport.
func (s *Session) NewPage(ctx context.Context) (*Page, error) {
	rp, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	// detach from ctx so later calls can bind their own deadlines
	rp = rp.Context(context.Background())

	page := newPage(rp, s.opts.ActionTimeout, s.opts.NavigationTimeout, s.logger)
	if s.opts.UserAgent != "" {
		if err := page.SetUserAgent(s.opts.UserAgent); err != nil {
			return nil, err
		}
	}
	if s.opts.ViewportWidth > 0 && s.opts.ViewportHeight > 0 {
		if err := page.SetViewport(s.opts.ViewportWidth, s.opts.ViewportHeight); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// Close shuts the browser down. Only the first call does anything.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing browser")
		s.closeErr = s.browser.Close()
		if s.launcher != nil {
			s.launcher.Cleanup()
		}
	})
	return s.closeErr
}
