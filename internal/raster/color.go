package raster

import "image/color"

// Color is an 8-bit RGB triple. The zero value is black, which doubles as
// the "LED off" sentinel.
type Color struct{ R, G, B uint8 }

var (
	Black = Color{}
	White = Color{R: 255, G: 255, B: 255}
)

// RGB builds a Color, clamping each channel into 0..255.
func RGB(r, g, b int) Color {
	return Color{R: clamp255(r), G: clamp255(g), B: clamp255(b)}
}

func (c Color) IsBlack() bool { return c == Black }

// Slice returns the wire representation [r,g,b].
func (c Color) Slice() []int { return []int{int(c.R), int(c.G), int(c.B)} }

func (c Color) NRGBA() color.NRGBA { return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255} }

func clamp255(v int) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
