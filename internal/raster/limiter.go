package raster

import "math"

// WhiteCap clamps per-LED RGB so r+g+b <= whiteCap*3*255. Values outside
// (0,1) disable the cap.
func WhiteCap(b *Buffer, whiteCap float64) {
	if whiteCap <= 0 || whiteCap >= 1 {
		return
	}
	limit := whiteCap * 3.0 * 255.0
	for i, c := range b.Pix {
		s := float64(c.R) + float64(c.G) + float64(c.B)
		if s > limit && s > 0 {
			scale := limit / s
			b.Pix[i] = Color{
				R: uint8(math.Round(float64(c.R) * scale)),
				G: uint8(math.Round(float64(c.G) * scale)),
				B: uint8(math.Round(float64(c.B) * scale)),
			}
		}
	}
}

// ChannelAmps is the draw of one LED channel at full scale (WS2812: 20 mA).
const ChannelAmps = 0.020

// EstimateCurrent is the supply current in amps needed to hold b lit.
func EstimateCurrent(b *Buffer) float64 {
	var levels int
	for _, c := range b.Pix {
		levels += int(c.R) + int(c.G) + int(c.B)
	}
	return float64(levels) / 255 * ChannelAmps
}
