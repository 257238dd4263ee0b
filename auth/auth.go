package auth

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Page is what the login flow needs from a browser page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	Has(ctx context.Context, selector string) (bool, error)
	Input(ctx context.Context, selector, text string) error
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	URL(ctx context.Context) (string, error)
}

// Config holds the login form details.
type Config struct {
	BaseURL    string
	LoginPath  string
	Username   string
	Password   string
	LoginToken string

	UsernameSelector string
	PasswordSelector string
	TokenSelector    string
	SubmitSelector   string

	FieldTimeout time.Duration
	SubmitWait   time.Duration
	// per-character typing delay window; zero disables human-like typing
	TypingDelayMin time.Duration
	TypingDelayMax time.Duration
}

// DefaultConfig returns the form layout of the sign-in site.
func DefaultConfig() Config {
	return Config{
		LoginPath:        "/user/login",
		LoginToken:       "小满",
		UsernameSelector: `input[name="username"]`,
		PasswordSelector: `input[name="password"]`,
		TokenSelector:    `input[name="login_token"]`,
		SubmitSelector:   `button[type="submit"]`,
		FieldTimeout:     10 * time.Second,
		SubmitWait:       2 * time.Second,
		TypingDelayMin:   50 * time.Millisecond,
		TypingDelayMax:   150 * time.Millisecond,
	}
}

// Manager handles site authentication
type Manager struct {
	config Config
	logger *logrus.Logger
	rng    *rand.Rand
}

// LoginResult represents the result of a login attempt
type LoginResult struct {
	Success      bool
	URL          string
	ErrorMessage string
}

// NewManager creates a new authentication manager
func NewManager(config Config, logger *logrus.Logger) *Manager {
	return &Manager{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Login fills the login form and judges the outcome by the landing URL. Only
// a failed navigation is returned as an error; a rejected login is reported
// in the result so the caller can carry on.
func (m *Manager) Login(ctx context.Context, page Page) (*LoginResult, error) {
	loginURL := strings.TrimRight(m.config.BaseURL, "/") + m.config.LoginPath
	m.logger.WithField("url", loginURL).Info("Opening login page")

	if err := page.Navigate(ctx, loginURL); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	result := &LoginResult{}
	if err := m.fillCredentials(ctx, page); err != nil {
		m.logger.WithError(err).Warn("Failed to fill credentials")
		result.ErrorMessage = err.Error()
		return result, nil
	}

	if err := page.Click(ctx, m.config.SubmitSelector); err != nil {
		m.logger.WithError(err).Warn("Failed to submit login form")
		result.ErrorMessage = fmt.Sprintf("failed to click login button: %v", err)
		return result, nil
	}
	if err := sleep(ctx, m.config.SubmitWait); err != nil {
		return nil, err
	}

	url, err := page.URL(ctx)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to read page url: %v", err)
		return result, nil
	}
	result.URL = url
	result.Success = LoggedIn(url)

	if result.Success {
		m.logger.WithField("url", url).Info("Login successful")
	} else {
		result.ErrorMessage = "still on login page"
		m.logger.WithField("url", url).Warn("Login may have failed, continuing")
	}
	return result, nil
}

// LoggedIn reports whether url looks like a page behind the login.
func LoggedIn(url string) bool {
	return strings.Contains(url, "dashboard") || !strings.Contains(url, "login")
}

func (m *Manager) fillCredentials(ctx context.Context, page Page) error {
	ok, err := page.WaitFor(ctx, m.config.UsernameSelector, m.config.FieldTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("username field not found")
	}

	if err := m.typeHuman(ctx, page, m.config.UsernameSelector, m.config.Username); err != nil {
		return fmt.Errorf("failed to input username: %w", err)
	}
	if err := m.typeHuman(ctx, page, m.config.PasswordSelector, m.config.Password); err != nil {
		return fmt.Errorf("failed to input password: %w", err)
	}

	if m.config.TokenSelector != "" {
		has, err := page.Has(ctx, m.config.TokenSelector)
		if err == nil && has {
			m.logger.Debug("Login token field present, filling it")
			if err := page.Input(ctx, m.config.TokenSelector, m.config.LoginToken); err != nil {
				return fmt.Errorf("failed to input login token: %w", err)
			}
		}
	}

	m.logger.Info("Credentials filled successfully")
	return nil
}

// typeHuman clears the field and types text one rune at a time.
func (m *Manager) typeHuman(ctx context.Context, page Page, selector, text string) error {
	if m.config.TypingDelayMax <= 0 {
		return page.Input(ctx, selector, text)
	}

	if err := page.Input(ctx, selector, ""); err != nil {
		return err
	}
	for i, char := range []rune(text) {
		if err := page.Type(ctx, selector, string(char)); err != nil {
			return err
		}
		if err := sleep(ctx, m.delay(m.config.TypingDelayMin, m.config.TypingDelayMax)); err != nil {
			return err
		}
		// occasional thinking pause
		if i > 0 && i%5 == 0 && m.rng.Float64() < 0.3 {
			if err := sleep(ctx, m.delay(200*time.Millisecond, 500*time.Millisecond)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) delay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(m.rng.Int63n(int64(hi-lo)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
