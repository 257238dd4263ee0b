package captcha

import "math"

// Scale is the rendered-to-native ratio of the background, or 1.0 when either
// width is unknown.
func (g SlideGeometry) Scale() float64 {
	if g.NativeWidth <= 0 || g.RenderedWidth <= 0 {
		return 1.0
	}
	return g.RenderedWidth / g.NativeWidth
}

// Reconcile projects a native gap coordinate onto the page and shifts it so
// the tile lands centred on the gap. The service reports the gap's leading
// edge, hence the handle correction. The result can be zero or negative; the
// loop treats that as a degenerate attempt.
func Reconcile(gap GapCoordinate, geom SlideGeometry, handleRatio float64) DragDistance {
	projected := math.Round(float64(gap) * geom.Scale())
	correction := 0.0
	if geom.HandleWidth > 0 {
		correction = math.Round(geom.HandleWidth * handleRatio)
	}
	return DragDistance(int(projected) - int(correction))
}
