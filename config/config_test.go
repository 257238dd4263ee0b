package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Captcha.MaxRetries)
	assert.Equal(t, 50, cfg.Captcha.SizeBudgets.BackgroundKB)
	assert.Equal(t, 30, cfg.Captcha.SizeBudgets.TileKB)
	assert.Equal(t, 340.0, cfg.Captcha.NativeWidth)
	assert.Equal(t, 150, cfg.Captcha.FallbackMin)
	assert.Equal(t, 280, cfg.Captcha.FallbackMax)
	assert.Equal(t, "#sliderHandle", cfg.Captcha.Selectors.Handle)
	assert.Equal(t, 5*time.Second, cfg.Captcha.HandleTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Captcha.SettleDelay)
	assert.Equal(t, "5 0 * * *", cfg.Schedule.Cron)
	assert.Equal(t, 2*time.Second, cfg.Pacing.RecognizeDelay)

	assert.Error(t, cfg.RequireCredentials())
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
site:
  base_url: https://signin.example.test
  username: bob
  password: secret
  max_attempts: 5
captcha:
  max_retries: 4
  fallback_min: 100
  fallback_max: 120
  settle_delay: 3s
  success_markers: ["ok"]
storage:
  path: ""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireCredentials())
	assert.Equal(t, 4, cfg.Captcha.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Captcha.SettleDelay)
	assert.Equal(t, []string{"ok"}, cfg.Captcha.SuccessMarkers)
	assert.Empty(t, cfg.Storage.Path)
	// unset keys keep their defaults
	assert.Equal(t, "#signinButton", cfg.Captcha.Selectors.Trigger)

	solver := cfg.SolverConfig()
	assert.Equal(t, "https://signin.example.test", solver.SiteBaseURL)
	assert.Equal(t, 100, solver.FallbackMin)

	sc := cfg.SigninConfig()
	assert.Equal(t, 5, sc.MaxAttempts)
	assert.Equal(t, "bob", sc.Username)
	assert.Equal(t, "Asia/Shanghai", sc.Location.String())

	ac := cfg.AuthConfig()
	assert.Equal(t, "secret", ac.Password)
	assert.Equal(t, "/user/login", ac.LoginPath)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("SIGNIN_USERNAME", "alice")
	t.Setenv("SIGNIN_PASSWORD", "pw")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("SIGNIN_CAPTCHA_MAX_RETRIES", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Site.Username)
	assert.Equal(t, "pw", cfg.Site.Password)
	assert.Equal(t, 7, cfg.Captcha.MaxRetries)

	tg := cfg.TelegramConfig()
	assert.True(t, tg.Configured())
	assert.Equal(t, "42", tg.ChatID)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero retries", "captcha:\n  max_retries: 0\n"},
		{"inverted fallback", "captcha:\n  fallback_min: 300\n  fallback_max: 200\n"},
		{"zero budget", "captcha:\n  size_budgets:\n    tile_kb: 0\n"},
		{"bad timezone", "schedule:\n  timezone: Mars/Olympus\n"},
		{"burst below one run", "pacing:\n  burst_limit: 5\n"},
		{"daily cap below one run", "site:\n  max_attempts: 4\npacing:\n  burst_limit: 20\n  daily_recognize: 10\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestDefaultPacingCoversOneRun(t *testing.T) {
	cfg := Default()
	perRun := cfg.Site.MaxAttempts * cfg.Captcha.MaxRetries

	assert.GreaterOrEqual(t, cfg.Pacing.BurstLimit, perRun)
	assert.GreaterOrEqual(t, cfg.Pacing.DailyRecognize, perRun)
	assert.NoError(t, validateConfig(&cfg))
}

func TestBrowserOptions(t *testing.T) {
	cfg := Default()
	cfg.Browser.Headless = false
	cfg.Browser.ExecutablePath = "/usr/bin/chromium"

	opts := cfg.BrowserOptions()
	assert.False(t, opts.Headless)
	assert.Equal(t, "/usr/bin/chromium", opts.BinPath)
	assert.Equal(t, 1280, opts.ViewportWidth)
	assert.Equal(t, 30*time.Second, opts.NavigationTimeout)
}
