package raster

import "image"

// Buffer is a dense W×H grid of colors in row-major order. Every pixel in
// range is defined; new buffers start black.
type Buffer struct {
	W, H int
	Pix  []Color
}

// New allocates a black buffer. Negative sizes are treated as zero.
func New(w, h int) *Buffer {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Buffer{W: w, H: h, Pix: make([]Color, w*h)}
}

func (b *Buffer) InBounds(x, y int) bool {
	return x >= 0 && x < b.W && y >= 0 && y < b.H
}

// ColorAt returns black for coordinates outside the buffer.
func (b *Buffer) ColorAt(x, y int) Color {
	if !b.InBounds(x, y) {
		return Black
	}
	return b.Pix[y*b.W+x]
}

// Set writes c at (x,y). Out-of-range writes are ignored.
func (b *Buffer) Set(x, y int, c Color) {
	if !b.InBounds(x, y) {
		return
	}
	b.Pix[y*b.W+x] = c
}

func (b *Buffer) Fill(c Color) {
	for i := range b.Pix {
		b.Pix[i] = c
	}
}

func (b *Buffer) Clone() *Buffer {
	out := &Buffer{W: b.W, H: b.H, Pix: make([]Color, len(b.Pix))}
	copy(out.Pix, b.Pix)
	return out
}

func (b *Buffer) Equal(o *Buffer) bool {
	if b.W != o.W || b.H != o.H {
		return false
	}
	for i := range b.Pix {
		if b.Pix[i] != o.Pix[i] {
			return false
		}
	}
	return true
}

// NonBlack counts lit pixels.
func (b *Buffer) NonBlack() int {
	n := 0
	for _, c := range b.Pix {
		if !c.IsBlack() {
			n++
		}
	}
	return n
}

// NRGBA exports the buffer as an opaque image, mostly for previews.
func (b *Buffer) NRGBA() *image.NRGBA {
	im := image.NewNRGBA(image.Rect(0, 0, b.W, b.H))
	for y := 0; y < b.H; y++ {
		for x := 0; x < b.W; x++ {
			im.SetNRGBA(x, y, b.Pix[y*b.W+x].NRGBA())
		}
	}
	return im
}
