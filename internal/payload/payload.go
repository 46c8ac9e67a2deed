package payload

import (
	"sort"

	"github.com/coreman2200/multi-led-grid/internal/raster"
)

// AnimationSolid is the only animation the core emits.
const AnimationSolid = "solid"

// Command is one strip-level instruction. It is either a Solid fill or a
// sparse Pixels set; there are no other cases.
type Command interface {
	isCommand()
}

// Solid fills a whole strip with one color.
type Solid struct {
	Animation string
	Color     raster.Color
}

// Pixels sets individual LEDs within a strip, keyed by position along it.
type Pixels map[int]raster.Color

func (Solid) isCommand()  {}
func (Pixels) isCommand() {}

// Payload maps a strip index to its command. Before partitioning the keys
// are global strip indices; afterwards they are controller-local.
type Payload map[int]Command

// SolidClear blanks strips 0..n-1.
func SolidClear(n int) Payload {
	p := make(Payload, n)
	for i := 0; i < n; i++ {
		p[i] = Solid{Animation: AnimationSolid, Color: raster.Black}
	}
	return p
}

// FromBuffer turns every lit pixel into a Pixels entry under its row. Black
// pixels produce nothing, so rows with no lit pixels are absent.
func FromBuffer(b *raster.Buffer) Payload {
	p := Payload{}
	for y := 0; y < b.H; y++ {
		for x := 0; x < b.W; x++ {
			c := b.ColorAt(x, y)
			if c.IsBlack() {
				continue
			}
			px, ok := p[y].(Pixels)
			if !ok {
				px = Pixels{}
				p[y] = px
			}
			px[x] = c
		}
	}
	return p
}

// Keys returns the strip indices in ascending order.
func (p Payload) Keys() []int {
	keys := make([]int, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// PixelCount counts the LEDs touched by Pixels commands.
func (p Payload) PixelCount() int {
	n := 0
	for _, c := range p {
		if px, ok := c.(Pixels); ok {
			n += len(px)
		}
	}
	return n
}
