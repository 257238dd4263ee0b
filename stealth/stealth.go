package stealth

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// webdriverDisguise hides the automation flag before any site script runs.
const webdriverDisguise = `
	Object.defineProperty(navigator, 'webdriver', {
		get: () => undefined,
	});
	window.chrome = window.chrome || { runtime: {} };
`

// Target is the part of a browser page that stealth settings touch.
type Target interface {
	EvalOnNewDocument(script string) error
	SetUserAgent(ua string) error
	SetViewport(width, height int) error
}

// Manager applies basic automation disguise to a page
type Manager struct {
	config Config
	logger *logrus.Logger
	rng    *rand.Rand
}

// Config contains stealth configuration
type Config struct {
	Enabled           bool     `yaml:"enabled" mapstructure:"enabled"`
	RandomUserAgent   bool     `yaml:"random_user_agent" mapstructure:"random_user_agent"`
	UserAgents        []string `yaml:"user_agents" mapstructure:"user_agents"`
	RandomViewport    bool     `yaml:"random_viewport" mapstructure:"random_viewport"`
	MinViewportWidth  int      `yaml:"min_viewport_width" mapstructure:"min_viewport_width"`
	MaxViewportWidth  int      `yaml:"max_viewport_width" mapstructure:"max_viewport_width"`
	MinViewportHeight int      `yaml:"min_viewport_height" mapstructure:"min_viewport_height"`
	MaxViewportHeight int      `yaml:"max_viewport_height" mapstructure:"max_viewport_height"`
}

// NewManager creates a new stealth manager. A nil rng seeds from the clock.
func NewManager(config Config, rng *rand.Rand, logger *logrus.Logger) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Manager{config: config, logger: logger, rng: rng}
}

// Apply installs the webdriver disguise and, when enabled, a random user agent
// and viewport. Failures of the optional parts are logged and skipped.
func (m *Manager) Apply(t Target) error {
	if !m.config.Enabled {
		m.logger.Info("Stealth features disabled, proceeding normally")
		return nil
	}

	if err := t.EvalOnNewDocument(webdriverDisguise); err != nil {
		return fmt.Errorf("failed to disable automation indicators: %w", err)
	}
	m.logger.Debug("Disabled automation indicators")

	var failed []string
	if m.config.RandomUserAgent && len(m.config.UserAgents) > 0 {
		ua := m.PickUserAgent()
		if err := t.SetUserAgent(ua); err != nil {
			m.logger.WithError(err).Warn("Failed to set random user agent")
			failed = append(failed, "user agent")
		} else {
			m.logger.WithField("user_agent", ua).Debug("Set random user agent")
		}
	}

	if m.config.RandomViewport {
		w, h := m.PickViewport()
		if err := t.SetViewport(w, h); err != nil {
			m.logger.WithError(err).Warn("Failed to set random viewport")
			failed = append(failed, "viewport")
		} else {
			m.logger.WithFields(logrus.Fields{"width": w, "height": h}).Debug("Set random viewport")
		}
	}

	if len(failed) > 0 {
		m.logger.WithField("failed_features", failed).Warn("Failed to apply some stealth features")
	} else {
		m.logger.Info("Stealth techniques applied successfully")
	}
	return nil
}

// PickUserAgent returns one of the configured user agents, or "" if none.
func (m *Manager) PickUserAgent() string {
	if len(m.config.UserAgents) == 0 {
		return ""
	}
	return m.config.UserAgents[m.rng.Intn(len(m.config.UserAgents))]
}

// PickViewport draws a viewport size from the configured ranges.
func (m *Manager) PickViewport() (int, int) {
	return between(m.rng, m.config.MinViewportWidth, m.config.MaxViewportWidth),
		between(m.rng, m.config.MinViewportHeight, m.config.MaxViewportHeight)
}

func between(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
