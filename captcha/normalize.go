package captcha

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/ernyoke/imger/resize"
	"github.com/sirupsen/logrus"
)

var qualityLadder = []int{85, 70, 50, 30, 20}

const (
	// scale ladder in tenths: 0.8 down to 0.3
	scaleStartTenths = 8
	scaleFloorTenths = 3

	scaledQuality     = 50
	lastResortScale   = 0.5
	lastResortQuality = 30
)

// Normalizer shrinks puzzle images until they fit a payload budget.
type Normalizer struct {
	logger *logrus.Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer(logger *logrus.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize returns img unchanged when it already fits budgetKB. Otherwise it
// re-encodes as JPEG, first lowering quality and then downscaling. It never
// fails; an undecodable image is passed through as is.
func (n *Normalizer) Normalize(img PuzzleImage, budgetKB int) PuzzleImage {
	budget := budgetKB * 1024
	if len(img.Data) <= budget {
		n.logger.WithFields(logrus.Fields{
			"size_kb":   img.SizeKB(),
			"budget_kb": budgetKB,
		}).Debug("Image within budget, left unchanged")
		return img
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		n.logger.WithError(err).Warn("Failed to decode puzzle image, sending original")
		return img
	}
	flat := flattenOnWhite(decoded)

	// smallest keeps the best full-size encoding in case every downscale is
	// degenerate
	var smallest []byte
	for _, q := range qualityLadder {
		out, err := encodeJPEG(flat, q)
		if err != nil {
			continue
		}
		if smallest == nil || len(out) < len(smallest) {
			smallest = out
		}
		if len(out) <= budget {
			n.logger.WithFields(logrus.Fields{
				"size_kb": float64(len(out)) / 1024,
				"quality": q,
			}).Debug("Image compressed")
			return NewPuzzleImage(out)
		}
	}

	for tenths := scaleStartTenths; tenths >= scaleFloorTenths; tenths-- {
		scale := float64(tenths) / 10
		out, err := scaleAndEncode(flat, scale, scaledQuality)
		if err != nil {
			continue
		}
		if len(out) <= budget {
			n.logger.WithFields(logrus.Fields{
				"size_kb": float64(len(out)) / 1024,
				"scale":   scale,
			}).Debug("Image compressed with downscale")
			return NewPuzzleImage(out)
		}
	}

	out, err := scaleAndEncode(flat, lastResortScale, lastResortQuality)
	if err != nil {
		if smallest != nil {
			n.logger.WithError(err).Warn("Final compression failed, sending smallest full-size encoding")
			return NewPuzzleImage(smallest)
		}
		n.logger.WithError(err).Warn("Final compression failed, sending original")
		return img
	}
	n.logger.WithField("size_kb", float64(len(out))/1024).Info("Image over budget after all passes, using final compression")
	return NewPuzzleImage(out)
}

// flattenOnWhite composites src over an opaque white canvas.
func flattenOnWhite(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	return dst
}

func scaleAndEncode(img *image.RGBA, scale float64, quality int) ([]byte, error) {
	b := img.Bounds()
	if int(float64(b.Dx())*scale) < 1 || int(float64(b.Dy())*scale) < 1 {
		return nil, fmt.Errorf("image %dx%d too small to scale by %.1f", b.Dx(), b.Dy(), scale)
	}
	resized, err := resize.ResizeRGBA(img, scale, scale, resize.InterLanczos)
	if err != nil {
		return nil, err
	}
	if r := resized.Bounds(); r.Dx() < 1 || r.Dy() < 1 {
		return nil, fmt.Errorf("scaling by %.1f produced an empty image", scale)
	}
	return encodeJPEG(resized, quality)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
