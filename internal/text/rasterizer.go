package text

import (
	"image"

	"github.com/coreman2200/multi-led-grid/internal/raster"
)

// Padding is added to both axes of every rendered buffer so glyph overhang
// is never cropped.
const Padding = 8

// coverageThreshold decides which anti-aliased pixels light up. LEDs are
// on or off; half coverage and above counts as on.
const coverageThreshold = 0x80

// Rasterizer renders text into raster buffers using a Face.
type Rasterizer struct {
	face Face
}

func NewRasterizer(face Face) *Rasterizer {
	if face == nil {
		face = DefaultFace()
	}
	return &Rasterizer{face: face}
}

// Measure returns the ink width and height of s.
func (r *Rasterizer) Measure(s string) (w, h int) {
	b := r.face.Measure(s)
	return b.Dx(), b.Dy()
}

// Render paints s in c with the pen at (xOffset, yOffset) in a buffer sized
// to the text bounds plus the offsets plus Padding. Unpainted pixels stay
// black.
func (r *Rasterizer) Render(s string, xOffset, yOffset int, c raster.Color) *raster.Buffer {
	w, h := r.Measure(s)
	buf := raster.New(w+xOffset+Padding, h+yOffset+Padding)
	if s == "" || buf.W == 0 || buf.H == 0 || c.IsBlack() {
		return buf
	}
	mask := image.NewAlpha(image.Rect(0, 0, buf.W, buf.H))
	r.face.Draw(mask, s, image.Pt(xOffset, yOffset))
	for y := 0; y < buf.H; y++ {
		for x := 0; x < buf.W; x++ {
			if mask.AlphaAt(x, y).A >= coverageThreshold {
				buf.Set(x, y, c)
			}
		}
	}
	return buf
}

// Center returns the offsets that put s in the middle of a gridW×gridH
// area, never negative.
func (r *Rasterizer) Center(s string, gridW, gridH int) (xOffset, yOffset int) {
	w, h := r.Measure(s)
	return max(0, (gridW-w)/2), max(0, (gridH-h)/2)
}
