package captcha

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"time"
)

// PuzzleImage is an encoded raster image lifted from the captcha widget.
type PuzzleImage struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// NewPuzzleImage wraps encoded bytes, sniffing the MIME type and reading the
// dimensions from the header when the format is known.
func NewPuzzleImage(data []byte) PuzzleImage {
	img := PuzzleImage{Data: data, MIME: http.DetectContentType(data)}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
	}
	return img
}

// ParseDataURI decodes a data:image/...;base64 URI. A bare base64 payload is
// accepted as well.
func ParseDataURI(uri string) (PuzzleImage, error) {
	payload := uri
	if idx := strings.Index(uri, ","); idx >= 0 {
		payload = uri[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return PuzzleImage{}, fmt.Errorf("failed to decode image data: %w", err)
	}
	if len(data) == 0 {
		return PuzzleImage{}, fmt.Errorf("empty image data")
	}
	return NewPuzzleImage(data), nil
}

// DataURI renders the image in the form the recognition service expects.
func (p PuzzleImage) DataURI() string {
	mime := p.MIME
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// SizeKB is the encoded size in kilobytes.
func (p PuzzleImage) SizeKB() float64 {
	return float64(len(p.Data)) / 1024
}

// Empty reports whether the image carries no bytes.
func (p PuzzleImage) Empty() bool {
	return len(p.Data) == 0
}

// GapCoordinate is a horizontal offset in the background's native pixels.
type GapCoordinate int

// DragDistance is the on-screen pointer travel in CSS pixels.
type DragDistance int

// SlideGeometry holds the layout measured for one attempt. Zero widths mean
// the corresponding box could not be read.
type SlideGeometry struct {
	NativeWidth   float64
	RenderedWidth float64
	HandleWidth   float64
	HandleOffset  float64
}

// Point is a viewport coordinate.
type Point struct {
	X float64
	Y float64
}

// Box is an element's bounding rectangle in viewport coordinates.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the middle of the box.
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// TrajectoryStep is one pointer micro-movement.
type TrajectoryStep struct {
	DX    int
	DY    float64
	Delay time.Duration
}

// Trajectory is the ordered list of steps for a single drag.
type Trajectory []TrajectoryStep

// Sum returns the total horizontal displacement.
func (t Trajectory) Sum() int {
	total := 0
	for _, step := range t {
		total += step.DX
	}
	return total
}

// AttemptOutcome is what the page showed after a drag.
type AttemptOutcome int

const (
	OutcomeUnsolved AttemptOutcome = iota
	OutcomeSolved
	OutcomeIndeterminate
)

func (o AttemptOutcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomeIndeterminate:
		return "indeterminate"
	default:
		return "unsolved"
	}
}

// Accepted reports whether the loop stops on this outcome.
func (o AttemptOutcome) Accepted() bool {
	return o == OutcomeSolved || o == OutcomeIndeterminate
}

// State is a verification loop state.
type State string

const (
	StateAwaitingTrigger State = "awaiting_trigger"
	StateSliderPresented State = "slider_presented"
	StateDragging        State = "dragging"
	StateVerifying       State = "verifying"
	StateSolved          State = "solved"
	StateUnsolved        State = "unsolved"
)
