package captcha

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcile(t *testing.T) {
	tests := []struct {
		name string
		gap  GapCoordinate
		geom SlideGeometry
		want DragDistance
	}{
		{
			name: "native size without tile",
			gap:  200,
			geom: SlideGeometry{NativeWidth: 340, RenderedWidth: 340},
			want: 200,
		},
		{
			name: "native size with tile",
			gap:  200,
			geom: SlideGeometry{NativeWidth: 340, RenderedWidth: 340, HandleWidth: 60},
			want: 164,
		},
		{
			name: "doubled render",
			gap:  100,
			geom: SlideGeometry{NativeWidth: 340, RenderedWidth: 680, HandleWidth: 60},
			want: 164,
		},
		{
			name: "scaled down render",
			gap:  200,
			geom: SlideGeometry{NativeWidth: 340, RenderedWidth: 170, HandleWidth: 30},
			want: 82,
		},
		{
			name: "unknown rendered width keeps scale 1",
			gap:  120,
			geom: SlideGeometry{NativeWidth: 340},
			want: 120,
		},
		{
			name: "tiny gap goes negative",
			gap:  10,
			geom: SlideGeometry{NativeWidth: 340, RenderedWidth: 340, HandleWidth: 60},
			want: -26,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reconcile(tt.gap, tt.geom, 0.6))
		})
	}
}

func TestSlideGeometryScale(t *testing.T) {
	assert.Equal(t, 1.0, SlideGeometry{}.Scale())
	assert.Equal(t, 1.0, SlideGeometry{NativeWidth: 340, RenderedWidth: 0}.Scale())
	assert.InDelta(t, 0.5, SlideGeometry{NativeWidth: 340, RenderedWidth: 170}.Scale(), 1e-9)
}
