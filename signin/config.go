package signin

import "time"

// Config describes the site pages around the captcha.
type Config struct {
	BaseURL       string
	DashboardPath string
	SigninPath    string
	Username      string
	ReportTitle   string
	Location      *time.Location

	// MaxAttempts bounds the outer sign-in check; each attempt runs the
	// captcha solver with its own retry budget.
	MaxAttempts     int
	PostSolveDelay  time.Duration
	PageSettleDelay time.Duration
	TitleSelector   string
	ScreenshotDir   string
}

// DefaultConfig returns the page layout of the sign-in site.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*60*60)
	}
	return Config{
		DashboardPath:   "/dashboard",
		SigninPath:      "/signin",
		ReportTitle:     "逐觅签到通知",
		Location:        loc,
		MaxAttempts:     3,
		PostSolveDelay:  2 * time.Second,
		PageSettleDelay: time.Second,
		TitleSelector:   ".signin-action-title",
	}
}

func (c Config) url(path string) string {
	base := c.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + path
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}
