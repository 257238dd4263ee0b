package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter paces calls to the recognition service, page reloads and
// notifications
type RateLimiter struct {
	logger         *logrus.Logger
	config         Config
	lastActionTime map[ActionType]time.Time
	burstCounts    map[ActionType]int
	dailyCounts    map[ActionType]int
	dailyResetTime time.Time
	rng            *rand.Rand
	now            func() time.Time
	mu             sync.Mutex
}

// Config defines rate limiting behavior
type Config struct {
	MinDelay time.Duration `yaml:"min_delay" mapstructure:"min_delay"` // floor for every action

	RecognizeDelay time.Duration `yaml:"recognize_delay" mapstructure:"recognize_delay"` // between recognition service calls
	ReloadDelay    time.Duration `yaml:"reload_delay" mapstructure:"reload_delay"`       // between page reloads
	NotifyDelay    time.Duration `yaml:"notify_delay" mapstructure:"notify_delay"`       // between notifications

	// Daily caps, zero means unlimited
	DailyRecognize int `yaml:"daily_recognize" mapstructure:"daily_recognize"`
	DailyReload    int `yaml:"daily_reload" mapstructure:"daily_reload"`
	DailyNotify    int `yaml:"daily_notify" mapstructure:"daily_notify"`

	// Burst protection
	BurstLimit  int           `yaml:"burst_limit" mapstructure:"burst_limit"`
	BurstWindow time.Duration `yaml:"burst_window" mapstructure:"burst_window"`

	RandomizeDelay bool    `yaml:"randomize_delay" mapstructure:"randomize_delay"`
	JitterPercent  float64 `yaml:"jitter_percent" mapstructure:"jitter_percent"`
}

// ActionType represents the paced actions
type ActionType string

const (
	ActionRecognize ActionType = "recognize"
	ActionReload    ActionType = "reload"
	ActionNotify    ActionType = "notify"
)

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config Config, logger *logrus.Logger) *RateLimiter {
	rl := &RateLimiter{
		logger:         logger,
		config:         config,
		lastActionTime: make(map[ActionType]time.Time),
		burstCounts:    make(map[ActionType]int),
		dailyCounts:    make(map[ActionType]int),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		now:            time.Now,
	}
	rl.dailyResetTime = nextMidnight(rl.now())
	return rl
}

// WaitForPermission waits until the action can be performed. It fails without
// waiting when a cap is reached.
func (rl *RateLimiter) WaitForPermission(ctx context.Context, action ActionType) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.maybeResetDaily()

	if err := rl.checkDailyLimit(action); err != nil {
		return err
	}
	if err := rl.checkBurstProtection(action); err != nil {
		return err
	}

	delay := rl.calculateDelay(action)
	if rl.config.RandomizeDelay {
		delay = rl.addJitter(delay)
	}

	if delay > 0 {
		rl.logger.WithFields(logrus.Fields{
			"action": string(action),
			"delay":  delay,
		}).Info("Rate limiting - waiting")

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rl.updateTracking(action)
	return nil
}

// For binds the limiter to one action. The result satisfies captcha.Pacer.
func (rl *RateLimiter) For(action ActionType) *Gate {
	return &Gate{limiter: rl, action: action}
}

// Gate is a limiter bound to a single action type.
type Gate struct {
	limiter *RateLimiter
	action  ActionType
}

// Wait blocks until the bound action is permitted.
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.WaitForPermission(ctx, g.action)
}

func (rl *RateLimiter) checkDailyLimit(action ActionType) error {
	var limit int
	switch action {
	case ActionRecognize:
		limit = rl.config.DailyRecognize
	case ActionReload:
		limit = rl.config.DailyReload
	case ActionNotify:
		limit = rl.config.DailyNotify
	}

	if limit > 0 && rl.dailyCounts[action] >= limit {
		return fmt.Errorf("daily limit exceeded for %s: %d/%d", action, rl.dailyCounts[action], limit)
	}
	return nil
}

func (rl *RateLimiter) checkBurstProtection(action ActionType) error {
	if rl.config.BurstLimit <= 0 {
		return nil
	}

	last := rl.lastActionTime[action]
	if last.IsZero() || rl.now().Sub(last) >= rl.config.BurstWindow {
		rl.burstCounts[action] = 0
		return nil
	}
	if rl.burstCounts[action] >= rl.config.BurstLimit {
		return fmt.Errorf("burst limit exceeded for %s: %d actions in %v",
			action, rl.burstCounts[action], rl.config.BurstWindow)
	}
	return nil
}

// calculateDelay returns the time left before action may run again
func (rl *RateLimiter) calculateDelay(action ActionType) time.Duration {
	last := rl.lastActionTime[action]
	if last.IsZero() {
		return 0
	}

	var required time.Duration
	switch action {
	case ActionRecognize:
		required = rl.config.RecognizeDelay
	case ActionReload:
		required = rl.config.ReloadDelay
	case ActionNotify:
		required = rl.config.NotifyDelay
	}
	if rl.config.MinDelay > required {
		required = rl.config.MinDelay
	}

	since := rl.now().Sub(last)
	if since >= required {
		return 0
	}
	return required - since
}

// addJitter adds +/- JitterPercent randomness
func (rl *RateLimiter) addJitter(delay time.Duration) time.Duration {
	if rl.config.JitterPercent <= 0 || delay <= 0 {
		return delay
	}

	jitter := float64(delay) * rl.config.JitterPercent / 100.0
	newDelay := float64(delay) + (rl.rng.Float64()*2-1)*jitter
	if newDelay < 0 {
		newDelay = 0
	}
	return time.Duration(newDelay)
}

func (rl *RateLimiter) updateTracking(action ActionType) {
	rl.lastActionTime[action] = rl.now()
	rl.burstCounts[action]++
	rl.dailyCounts[action]++
}

func (rl *RateLimiter) maybeResetDaily() {
	now := rl.now()
	if now.Before(rl.dailyResetTime) {
		return
	}
	rl.dailyCounts = make(map[ActionType]int)
	rl.dailyResetTime = nextMidnight(now)
	rl.logger.Info("Daily rate limits reset")
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

// GetStats returns current rate limiting statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := make(map[string]interface{})
	for _, action := range []ActionType{ActionRecognize, ActionReload, ActionNotify} {
		stats["daily_"+string(action)] = rl.dailyCounts[action]
	}
	for action, last := range rl.lastActionTime {
		stats["last_"+string(action)] = last.Format(time.RFC3339)
	}
	stats["next_daily_reset"] = rl.dailyResetTime.Format(time.RFC3339)
	return stats
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MinDelay:       0,
		RecognizeDelay: 2 * time.Second,
		ReloadDelay:    time.Second,
		NotifyDelay:    5 * time.Second,
		DailyRecognize: 30,
		DailyReload:    30,
		DailyNotify:    10,
		BurstLimit:     10,
		BurstWindow:    time.Minute,
		RandomizeDelay: true,
		JitterPercent:  20.0,
	}
}
