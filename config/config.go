package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"signin-automation/auth"
	"signin-automation/browser"
	"signin-automation/captcha"
	"signin-automation/notify"
	"signin-automation/ratelimit"
	"signin-automation/signin"
	"signin-automation/stealth"
)

// Config represents the application configuration
type Config struct {
	Site     SiteConfig       `yaml:"site" mapstructure:"site"`
	Browser  BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Captcha  captcha.Config   `yaml:"captcha" mapstructure:"captcha"`
	Stealth  stealth.Config   `yaml:"stealth" mapstructure:"stealth"`
	Pacing   ratelimit.Config `yaml:"pacing" mapstructure:"pacing"`
	Notify   NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Storage  StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Schedule ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Logging  LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// SiteConfig contains the sign-in site and account settings
type SiteConfig struct {
	BaseURL         string        `yaml:"base_url" mapstructure:"base_url"`
	LoginPath       string        `yaml:"login_path" mapstructure:"login_path"`
	DashboardPath   string        `yaml:"dashboard_path" mapstructure:"dashboard_path"`
	SigninPath      string        `yaml:"signin_path" mapstructure:"signin_path"`
	Username        string        `yaml:"username" mapstructure:"username"`
	Password        string        `yaml:"password" mapstructure:"password"`
	LoginToken      string        `yaml:"login_token" mapstructure:"login_token"`
	Timezone        string        `yaml:"timezone" mapstructure:"timezone"`
	ReportTitle     string        `yaml:"report_title" mapstructure:"report_title"`
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	PostSolveDelay  time.Duration `yaml:"post_solve_delay" mapstructure:"post_solve_delay"`
	PageSettleDelay time.Duration `yaml:"page_settle_delay" mapstructure:"page_settle_delay"`
	ScreenshotDir   string        `yaml:"screenshot_dir" mapstructure:"screenshot_dir"`
}

// BrowserConfig contains browser automation settings
type BrowserConfig struct {
	Headless          bool          `yaml:"headless" mapstructure:"headless"`
	ExecutablePath    string        `yaml:"executable_path" mapstructure:"executable_path"`
	ProfileDir        string        `yaml:"profile_dir" mapstructure:"profile_dir"`
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	ViewportWidth     int           `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height" mapstructure:"viewport_height"`
	ActionTimeout     time.Duration `yaml:"action_timeout" mapstructure:"action_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" mapstructure:"navigation_timeout"`
	TypingDelayMin    time.Duration `yaml:"typing_delay_min" mapstructure:"typing_delay_min"`
	TypingDelayMax    time.Duration `yaml:"typing_delay_max" mapstructure:"typing_delay_max"`
}

// NotifyConfig contains Telegram settings
type NotifyConfig struct {
	TelegramBotToken string        `yaml:"telegram_bot_token" mapstructure:"telegram_bot_token"`
	TelegramChatID   string        `yaml:"telegram_chat_id" mapstructure:"telegram_chat_id"`
	APIBase          string        `yaml:"api_base" mapstructure:"api_base"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StorageConfig contains the attempt journal settings. An empty path
// disables the journal.
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ScheduleConfig contains the daily trigger
type ScheduleConfig struct {
	Cron     string `yaml:"cron" mapstructure:"cron"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// LoadConfig loads configuration from file and environment variables. A
// missing file is created with the defaults first.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := createDefaultConfig(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Enable environment variable support, e.g. SIGNIN_CAPTCHA_MAX_RETRIES
	v.SetEnvPrefix("SIGNIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://zhuimi.xn--v4q818bf34b.com")
	v.SetDefault("site.login_path", "/user/login")
	v.SetDefault("site.dashboard_path", "/dashboard")
	v.SetDefault("site.signin_path", "/signin")
	v.SetDefault("site.username", "")
	v.SetDefault("site.password", "")
	v.SetDefault("site.login_token", "小满")
	v.SetDefault("site.timezone", "Asia/Shanghai")
	v.SetDefault("site.report_title", "逐觅签到通知")
	v.SetDefault("site.max_attempts", 3)
	v.SetDefault("site.post_solve_delay", "2s")
	v.SetDefault("site.page_settle_delay", "1s")
	v.SetDefault("site.screenshot_dir", "")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.typing_delay_min", "50ms")
	v.SetDefault("browser.typing_delay_max", "150ms")

	v.SetDefault("captcha.service_endpoint", "https://byye.pythonanywhere.com")
	v.SetDefault("captcha.site_base_url", "")
	v.SetDefault("captcha.service_timeout", "30s")
	v.SetDefault("captcha.max_retries", 3)
	v.SetDefault("captcha.size_budgets.background_kb", 50)
	v.SetDefault("captcha.size_budgets.tile_kb", 30)
	v.SetDefault("captcha.native_width", 340)
	v.SetDefault("captcha.handle_center_ratio", 0.6)
	v.SetDefault("captcha.fallback_min", 150)
	v.SetDefault("captcha.fallback_max", 280)
	v.SetDefault("captcha.selectors.trigger", "#signinButton")
	v.SetDefault("captcha.selectors.handle", "#sliderHandle")
	v.SetDefault("captcha.selectors.background", ".slider-captcha-bg")
	v.SetDefault("captcha.selectors.tile", "#sliderPuzzle img")
	v.SetDefault("captcha.selectors.tile_container", "#sliderPuzzle")
	v.SetDefault("captcha.success_markers", []string{"验证成功", "签到成功"})
	v.SetDefault("captcha.handle_timeout", "5s")
	v.SetDefault("captcha.image_load_delay", "500ms")
	v.SetDefault("captcha.settle_delay", "1500ms")
	v.SetDefault("captcha.reload_delay", "1s")
	v.SetDefault("captcha.pauses.before_press_min", "100ms")
	v.SetDefault("captcha.pauses.before_press_max", "300ms")
	v.SetDefault("captcha.pauses.after_press_min", "50ms")
	v.SetDefault("captcha.pauses.after_press_max", "100ms")
	v.SetDefault("captcha.pauses.before_release_min", "100ms")
	v.SetDefault("captcha.pauses.before_release_max", "300ms")

	v.SetDefault("stealth.enabled", true)
	v.SetDefault("stealth.random_user_agent", false)
	v.SetDefault("stealth.user_agents", []string{})
	v.SetDefault("stealth.random_viewport", false)
	v.SetDefault("stealth.min_viewport_width", 1280)
	v.SetDefault("stealth.max_viewport_width", 1920)
	v.SetDefault("stealth.min_viewport_height", 800)
	v.SetDefault("stealth.max_viewport_height", 1080)

	v.SetDefault("pacing.min_delay", "0s")
	v.SetDefault("pacing.recognize_delay", "2s")
	v.SetDefault("pacing.reload_delay", "1s")
	v.SetDefault("pacing.notify_delay", "5s")
	v.SetDefault("pacing.daily_recognize", 30)
	v.SetDefault("pacing.daily_reload", 30)
	v.SetDefault("pacing.daily_notify", 10)
	v.SetDefault("pacing.burst_limit", 10)
	v.SetDefault("pacing.burst_window", "1m")
	v.SetDefault("pacing.randomize_delay", true)
	v.SetDefault("pacing.jitter_percent", 20.0)

	v.SetDefault("notify.telegram_bot_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("notify.api_base", "https://api.telegram.org")
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("storage.path", "./data/captcha.db")

	v.SetDefault("schedule.cron", "5 0 * * *")
	v.SetDefault("schedule.timezone", "Asia/Shanghai")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Default returns the configuration written for a fresh install.
func Default() Config {
	c := captcha.DefaultConfig()
	return Config{
		Site: SiteConfig{
			BaseURL:         "https://zhuimi.xn--v4q818bf34b.com",
			LoginPath:       "/user/login",
			DashboardPath:   "/dashboard",
			SigninPath:      "/signin",
			LoginToken:      "小满",
			Timezone:        "Asia/Shanghai",
			ReportTitle:     "逐觅签到通知",
			MaxAttempts:     3,
			PostSolveDelay:  2 * time.Second,
			PageSettleDelay: time.Second,
		},
		Browser: BrowserConfig{
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ViewportWidth:     1280,
			ViewportHeight:    800,
			ActionTimeout:     10 * time.Second,
			NavigationTimeout: 30 * time.Second,
			TypingDelayMin:    50 * time.Millisecond,
			TypingDelayMax:    150 * time.Millisecond,
		},
		Captcha: c,
		Stealth: stealth.Config{
			Enabled:           true,
			MinViewportWidth:  1280,
			MaxViewportWidth:  1920,
			MinViewportHeight: 800,
			MaxViewportHeight: 1080,
		},
		Pacing: ratelimit.DefaultConfig(),
		Notify: NotifyConfig{
			APIBase: "https://api.telegram.org",
			Timeout: 10 * time.Second,
		},
		Storage:  StorageConfig{Path: "./data/captcha.db"},
		Schedule: ScheduleConfig{Cron: "5 0 * * *", Timezone: "Asia/Shanghai"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// createDefaultConfig creates a default configuration file
func createDefaultConfig(configPath string) error {
	config := Default()

	data, err := yaml.Marshal(&config)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(configPath, data, 0600)
}

// overrideFromEnv applies the short credential variables
func overrideFromEnv(v *viper.Viper) {
	if username := os.Getenv("SIGNIN_USERNAME"); username != "" {
		v.Set("site.username", username)
	}
	if password := os.Getenv("SIGNIN_PASSWORD"); password != "" {
		v.Set("site.password", password)
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		v.Set("notify.telegram_bot_token", token)
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		v.Set("notify.telegram_chat_id", chatID)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Site.BaseURL == "" {
		return fmt.Errorf("site base url is required")
	}
	if config.Captcha.MaxRetries < 1 {
		return fmt.Errorf("captcha max retries must be at least 1")
	}
	if config.Captcha.SizeBudgets.BackgroundKB <= 0 || config.Captcha.SizeBudgets.TileKB <= 0 {
		return fmt.Errorf("captcha size budgets must be positive")
	}
	if config.Captcha.FallbackMin > config.Captcha.FallbackMax {
		return fmt.Errorf("captcha fallback_min must not exceed fallback_max")
	}
	if config.Captcha.NativeWidth <= 0 {
		return fmt.Errorf("captcha native width must be positive")
	}
	// one run may recognize up to attempts*retries times back to back
	perRun := config.Site.MaxAttempts * config.Captcha.MaxRetries
	if config.Pacing.BurstLimit > 0 && config.Pacing.BurstLimit < perRun {
		return fmt.Errorf("pacing burst_limit %d is below the %d recognitions one run may need",
			config.Pacing.BurstLimit, perRun)
	}
	if config.Pacing.DailyRecognize > 0 && config.Pacing.DailyRecognize < perRun {
		return fmt.Errorf("pacing daily_recognize %d is below the %d recognitions one run may need",
			config.Pacing.DailyRecognize, perRun)
	}
	if _, err := time.LoadLocation(config.Site.Timezone); err != nil {
		return fmt.Errorf("invalid site timezone %q: %w", config.Site.Timezone, err)
	}
	if _, err := time.LoadLocation(config.Schedule.Timezone); err != nil {
		return fmt.Errorf("invalid schedule timezone %q: %w", config.Schedule.Timezone, err)
	}
	return nil
}

// RequireCredentials reports missing login credentials. Commands that only
// read the journal or probe the service do not need them.
func (c *Config) RequireCredentials() error {
	if c.Site.Username == "" {
		return fmt.Errorf("site username is required (SIGNIN_USERNAME)")
	}
	if c.Site.Password == "" {
		return fmt.Errorf("site password is required (SIGNIN_PASSWORD)")
	}
	return nil
}

// SolverConfig returns the captcha configuration with the site base URL
// filled in.
func (c *Config) SolverConfig() captcha.Config {
	cfg := c.Captcha
	if cfg.SiteBaseURL == "" {
		cfg.SiteBaseURL = c.Site.BaseURL
	}
	return cfg
}

// BrowserOptions converts the browser section to launch options
func (c *Config) BrowserOptions() browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.BinPath = c.Browser.ExecutablePath
	opts.UserDataDir = c.Browser.ProfileDir
	if c.Browser.UserAgent != "" {
		opts.UserAgent = c.Browser.UserAgent
	}
	if c.Browser.ViewportWidth > 0 && c.Browser.ViewportHeight > 0 {
		opts.ViewportWidth = c.Browser.ViewportWidth
		opts.ViewportHeight = c.Browser.ViewportHeight
	}
	if c.Browser.ActionTimeout > 0 {
		opts.ActionTimeout = c.Browser.ActionTimeout
	}
	if c.Browser.NavigationTimeout > 0 {
		opts.NavigationTimeout = c.Browser.NavigationTimeout
	}
	return opts
}

// AuthConfig converts the site section to login settings
func (c *Config) AuthConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.BaseURL = c.Site.BaseURL
	if c.Site.LoginPath != "" {
		cfg.LoginPath = c.Site.LoginPath
	}
	cfg.Username = c.Site.Username
	cfg.Password = c.Site.Password
	if c.Site.LoginToken != "" {
		cfg.LoginToken = c.Site.LoginToken
	}
	cfg.TypingDelayMin = c.Browser.TypingDelayMin
	cfg.TypingDelayMax = c.Browser.TypingDelayMax
	return cfg
}

// SigninConfig converts the site section to the sign-in flow settings
func (c *Config) SigninConfig() signin.Config {
	cfg := signin.DefaultConfig()
	cfg.BaseURL = c.Site.BaseURL
	if c.Site.DashboardPath != "" {
		cfg.DashboardPath = c.Site.DashboardPath
	}
	if c.Site.SigninPath != "" {
		cfg.SigninPath = c.Site.SigninPath
	}
	cfg.Username = c.Site.Username
	if c.Site.ReportTitle != "" {
		cfg.ReportTitle = c.Site.ReportTitle
	}
	if loc, err := time.LoadLocation(c.Site.Timezone); err == nil {
		cfg.Location = loc
	}
	if c.Site.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Site.MaxAttempts
	}
	cfg.PostSolveDelay = c.Site.PostSolveDelay
	cfg.PageSettleDelay = c.Site.PageSettleDelay
	cfg.ScreenshotDir = c.Site.ScreenshotDir
	return cfg
}

// TelegramConfig converts the notify section
func (c *Config) TelegramConfig() notify.Config {
	return notify.Config{
		BotToken: c.Notify.TelegramBotToken,
		ChatID:   c.Notify.TelegramChatID,
		APIBase:  c.Notify.APIBase,
		Timeout:  c.Notify.Timeout,
	}
}

// ScheduleLocation returns the timezone of the daily trigger
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
