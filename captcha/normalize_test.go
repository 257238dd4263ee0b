package captcha

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWithinBudget(t *testing.T) {
	data := noisePNG(t, 20, 20, 1)
	img := NewPuzzleImage(data)

	out := NewNormalizer(quietLogger()).Normalize(img, 50)

	assert.Equal(t, data, out.Data)
	assert.Equal(t, "image/png", out.MIME)
}

func TestNormalizeShrinksOversizedImage(t *testing.T) {
	data := noisePNG(t, 400, 300, 2)
	require.Greater(t, len(data), 30*1024)

	out := NewNormalizer(quietLogger()).Normalize(NewPuzzleImage(data), 30)

	assert.Less(t, len(out.Data), len(data))
	assert.Equal(t, "image/jpeg", out.MIME)
	assert.LessOrEqual(t, out.SizeKB(), 30.0)
}

func TestNormalizeFlattensTransparency(t *testing.T) {
	clear := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			clear.Set(x, y, color.NRGBA{R: 0, G: 0, B: 0, A: 0})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, clear))

	// a zero budget forces re-encoding
	out := NewNormalizer(quietLogger()).Normalize(NewPuzzleImage(buf.Bytes()), 0)
	require.Equal(t, "image/jpeg", out.MIME)

	decoded, _, err := image.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	c := decoded.Bounds()
	r, g, b, _ := decoded.At(c.Min.X+c.Dx()/2, c.Min.Y+c.Dy()/2).RGBA()
	assert.GreaterOrEqual(t, r>>8, uint32(245))
	assert.GreaterOrEqual(t, g>>8, uint32(245))
	assert.GreaterOrEqual(t, b>>8, uint32(245))
}

func TestNormalizeTinyImageStaysDecodable(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"one pixel", 1, 1},
		{"single row", 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := noisePNG(t, tt.w, tt.h, 4)

			out := NewNormalizer(quietLogger()).Normalize(NewPuzzleImage(data), 0)

			require.Equal(t, "image/jpeg", out.MIME)
			cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, cfg.Width, 1)
			assert.GreaterOrEqual(t, cfg.Height, 1)
			assert.Equal(t, cfg.Width, out.Width)
		})
	}
}

func TestNormalizeUndecodablePassesThrough(t *testing.T) {
	img := PuzzleImage{Data: bytes.Repeat([]byte("x"), 4096), MIME: "text/plain"}

	out := NewNormalizer(quietLogger()).Normalize(img, 1)

	assert.Equal(t, img, out)
}

func TestParseDataURI(t *testing.T) {
	data := noisePNG(t, 8, 6, 3)
	img := NewPuzzleImage(data)

	parsed, err := ParseDataURI(img.DataURI())
	require.NoError(t, err)
	assert.Equal(t, data, parsed.Data)
	assert.Equal(t, 8, parsed.Width)
	assert.Equal(t, 6, parsed.Height)

	_, err = ParseDataURI("data:image/png;base64,!!!")
	assert.Error(t, err)

	_, err = ParseDataURI("data:image/png;base64,")
	assert.Error(t, err)
}
