package captcha

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Executor replays a trajectory with low-level pointer events.
type Executor struct {
	pauses Pauses
	rng    *rand.Rand
	logger *logrus.Logger
}

// NewExecutor creates an executor. A nil rng seeds from the clock.
func NewExecutor(pauses Pauses, rng *rand.Rand, logger *logrus.Logger) *Executor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Executor{pauses: pauses, rng: rng, logger: logger}
}

// Drag presses at start, walks the trajectory and releases. Any page failure
// aborts the drag as an interaction error.
func (e *Executor) Drag(ctx context.Context, page Page, start Point, track Trajectory) error {
	e.logger.WithFields(logrus.Fields{
		"start_x": start.X,
		"start_y": start.Y,
		"steps":   len(track),
	}).Debug("Starting drag")

	if err := page.MouseMove(ctx, start.X, start.Y); err != nil {
		return newError(KindInteraction, "move to handle", err)
	}
	if err := e.pause(ctx, e.pauses.BeforePressMin, e.pauses.BeforePressMax); err != nil {
		return newError(KindInteraction, "pause", err)
	}
	if err := page.MouseDown(ctx); err != nil {
		return newError(KindInteraction, "press", err)
	}
	if err := e.pause(ctx, e.pauses.AfterPressMin, e.pauses.AfterPressMax); err != nil {
		return newError(KindInteraction, "pause", err)
	}

	x, y := start.X, start.Y
	for _, step := range track {
		x += float64(step.DX)
		y += step.DY
		if err := page.MouseMove(ctx, x, y); err != nil {
			return newError(KindInteraction, "move", err)
		}
		if err := sleep(ctx, step.Delay); err != nil {
			return newError(KindInteraction, "step delay", err)
		}
	}

	if err := e.pause(ctx, e.pauses.BeforeReleaseMin, e.pauses.BeforeReleaseMax); err != nil {
		return newError(KindInteraction, "pause", err)
	}
	if err := page.MouseUp(ctx); err != nil {
		return newError(KindInteraction, "release", err)
	}

	e.logger.WithField("end_x", x).Debug("Drag completed")
	return nil
}

func (e *Executor) pause(ctx context.Context, lo, hi time.Duration) error {
	d := lo
	if hi > lo {
		d += time.Duration(e.rng.Int63n(int64(hi - lo)))
	}
	return sleep(ctx, d)
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
