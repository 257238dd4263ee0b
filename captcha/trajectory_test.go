package captcha

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSumsToDistance(t *testing.T) {
	synth := NewSynthesizer(rand.New(rand.NewSource(42)))

	for _, d := range []DragDistance{1, 2, 7, 50, 164, 280, 600} {
		for i := 0; i < 20; i++ {
			track := synth.Generate(d)
			require.NotEmpty(t, track)
			assert.Equal(t, int(d), track.Sum(), "distance %d", d)
		}
	}
}

func TestGenerateStepShape(t *testing.T) {
	synth := NewSynthesizer(rand.New(rand.NewSource(7)))

	for i := 0; i < 50; i++ {
		track := synth.Generate(200)

		body := track
		if n := len(track); n >= 2 && track[n-2].DX < 0 {
			// back-and-forth nudge
			assert.Equal(t, -track[n-2].DX, track[n-1].DX)
			assert.GreaterOrEqual(t, track[n-1].DX, 1)
			assert.LessOrEqual(t, track[n-1].DX, 3)
			body = track[:n-2]
		}

		for _, step := range body {
			assert.GreaterOrEqual(t, step.DX, 1)
			assert.GreaterOrEqual(t, step.DY, -1.0)
			assert.LessOrEqual(t, step.DY, 1.0)
			assert.GreaterOrEqual(t, step.Delay, 10*time.Millisecond)
			assert.LessOrEqual(t, step.Delay, 30*time.Millisecond)
		}
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	a := NewSynthesizer(rand.New(rand.NewSource(99))).Generate(150)
	b := NewSynthesizer(rand.New(rand.NewSource(99))).Generate(150)
	assert.Equal(t, a, b)
}

func TestGenerateNonPositive(t *testing.T) {
	synth := NewSynthesizer(nil)
	assert.Empty(t, synth.Generate(0))
	assert.Empty(t, synth.Generate(-5))
}
