package captcha

import (
	"math/rand"
	"time"
)

const (
	accelPhase   = 0.7 // fraction of the distance spent accelerating
	timeSlice    = 0.2
	jitterChance = 0.3
	nudgeChance  = 0.5
)

// Synthesizer produces human-looking drag trajectories.
type Synthesizer struct {
	rng *rand.Rand
}

// NewSynthesizer creates a synthesizer. A nil rng seeds from the clock.
func NewSynthesizer(rng *rand.Rand) *Synthesizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Synthesizer{rng: rng}
}

// Generate builds a trajectory whose DX values sum to distance. The body
// accelerates up to 70% of the way and then brakes; every step moves at least
// one pixel and the last one is clamped. Half of the time a back-and-forth
// nudge is appended. A non-positive distance yields an empty trajectory.
func (s *Synthesizer) Generate(distance DragDistance) Trajectory {
	target := int(distance)
	if target <= 0 {
		return nil
	}

	var (
		track   Trajectory
		current int
		v       float64
		mid     = float64(target) * accelPhase
	)

	for current < target {
		var a float64
		if float64(current) < mid {
			a = s.uniform(2, 4)
		} else {
			a = s.uniform(-3, -1)
		}

		v0 := v
		v = v0 + a*timeSlice
		move := int(v0*timeSlice + 0.5*a*timeSlice*timeSlice)
		if move < 1 {
			move = 1
		}
		if current+move > target {
			move = target - current
		}

		dy := 0.0
		if s.rng.Float64() < jitterChance {
			dy = s.uniform(-1, 1)
		}

		track = append(track, TrajectoryStep{
			DX:    move,
			DY:    dy,
			Delay: s.millis(10, 30),
		})
		current += move
	}

	if s.rng.Float64() < nudgeChance {
		back := 1 + s.rng.Intn(3)
		track = append(track,
			TrajectoryStep{DX: -back, Delay: s.millis(50, 150)},
			TrajectoryStep{DX: back, Delay: s.millis(30, 80)},
		)
	}

	return track
}

func (s *Synthesizer) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func (s *Synthesizer) millis(lo, hi int) time.Duration {
	return time.Duration(lo+s.rng.Intn(hi-lo+1)) * time.Millisecond
}
