package captcha

import "time"

// Config carries everything the solver needs. It is built once by the caller
// and never read from the environment.
type Config struct {
	ServiceEndpoint string        `yaml:"service_endpoint" mapstructure:"service_endpoint"`
	SiteBaseURL     string        `yaml:"site_base_url" mapstructure:"site_base_url"`
	ServiceTimeout  time.Duration `yaml:"service_timeout" mapstructure:"service_timeout"`
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
	SizeBudgets     SizeBudgets   `yaml:"size_budgets" mapstructure:"size_budgets"`

	// Site-specific empirical constants
	NativeWidth       float64 `yaml:"native_width" mapstructure:"native_width"`               // source width of the background asset
	HandleCenterRatio float64 `yaml:"handle_center_ratio" mapstructure:"handle_center_ratio"` // fraction of the tile width subtracted from the gap
	FallbackMin       int     `yaml:"fallback_min" mapstructure:"fallback_min"`
	FallbackMax       int     `yaml:"fallback_max" mapstructure:"fallback_max"`

	Selectors      Selectors     `yaml:"selectors" mapstructure:"selectors"`
	SuccessMarkers []string      `yaml:"success_markers" mapstructure:"success_markers"`
	HandleTimeout  time.Duration `yaml:"handle_timeout" mapstructure:"handle_timeout"`
	ImageLoadDelay time.Duration `yaml:"image_load_delay" mapstructure:"image_load_delay"`
	SettleDelay    time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
	ReloadDelay    time.Duration `yaml:"reload_delay" mapstructure:"reload_delay"`
	Pauses         Pauses        `yaml:"pauses" mapstructure:"pauses"`
}

// SizeBudgets are payload limits for the recognition service, in kilobytes.
type SizeBudgets struct {
	BackgroundKB int `yaml:"background_kb" mapstructure:"background_kb"`
	TileKB       int `yaml:"tile_kb" mapstructure:"tile_kb"`
}

// Selectors locate the puzzle on the page.
type Selectors struct {
	Trigger       string `yaml:"trigger" mapstructure:"trigger"`
	Handle        string `yaml:"handle" mapstructure:"handle"`
	Background    string `yaml:"background" mapstructure:"background"`
	Tile          string `yaml:"tile" mapstructure:"tile"`
	TileContainer string `yaml:"tile_container" mapstructure:"tile_container"`
}

// Pauses are the random pacing windows around pointer-down and pointer-up.
type Pauses struct {
	BeforePressMin   time.Duration `yaml:"before_press_min" mapstructure:"before_press_min"`
	BeforePressMax   time.Duration `yaml:"before_press_max" mapstructure:"before_press_max"`
	AfterPressMin    time.Duration `yaml:"after_press_min" mapstructure:"after_press_min"`
	AfterPressMax    time.Duration `yaml:"after_press_max" mapstructure:"after_press_max"`
	BeforeReleaseMin time.Duration `yaml:"before_release_min" mapstructure:"before_release_min"`
	BeforeReleaseMax time.Duration `yaml:"before_release_max" mapstructure:"before_release_max"`
}

// DefaultConfig returns the values tuned against the production site.
func DefaultConfig() Config {
	return Config{
		ServiceEndpoint: "https://byye.pythonanywhere.com",
		ServiceTimeout:  30 * time.Second,
		MaxRetries:      3,
		SizeBudgets: SizeBudgets{
			BackgroundKB: 50,
			TileKB:       30,
		},
		NativeWidth:       340,
		HandleCenterRatio: 0.6,
		FallbackMin:       150,
		FallbackMax:       280,
		Selectors: Selectors{
			Trigger:       "#signinButton",
			Handle:        "#sliderHandle",
			Background:    ".slider-captcha-bg",
			Tile:          "#sliderPuzzle img",
			TileContainer: "#sliderPuzzle",
		},
		SuccessMarkers: []string{"验证成功", "签到成功"},
		HandleTimeout:  5 * time.Second,
		ImageLoadDelay: 500 * time.Millisecond,
		SettleDelay:    1500 * time.Millisecond,
		ReloadDelay:    time.Second,
		Pauses: Pauses{
			BeforePressMin:   100 * time.Millisecond,
			BeforePressMax:   300 * time.Millisecond,
			AfterPressMin:    50 * time.Millisecond,
			AfterPressMax:    100 * time.Millisecond,
			BeforeReleaseMin: 100 * time.Millisecond,
			BeforeReleaseMax: 300 * time.Millisecond,
		},
	}
}
