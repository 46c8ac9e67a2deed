package led

import (
	"errors"
	"fmt"

	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

var (
	ErrOutOfRange  = errors.New("led: index out of range")
	ErrUnsupported = errors.New("led: unsupported animation")
)

// NewFrame allocates a board framebuffer: one row per local strip.
func NewFrame(strips, length int) *raster.Buffer { return raster.New(length, strips) }

// Apply executes a board-local payload against frame. The payload is
// validated first so a bad entry leaves the frame untouched.
func Apply(frame *raster.Buffer, p payload.Payload) error {
	for strip, cmd := range p {
		if strip < 0 || strip >= frame.H {
			return fmt.Errorf("%w: strip %d (board has %d)", ErrOutOfRange, strip, frame.H)
		}
		switch c := cmd.(type) {
		case payload.Solid:
			if c.Animation != payload.AnimationSolid {
				return fmt.Errorf("%w: %q", ErrUnsupported, c.Animation)
			}
		case payload.Pixels:
			for x := range c {
				if x < 0 || x >= frame.W {
					return fmt.Errorf("%w: strip %d pixel %d (strip length %d)", ErrOutOfRange, strip, x, frame.W)
				}
			}
		}
	}
	for strip, cmd := range p {
		switch c := cmd.(type) {
		case payload.Solid:
			for x := 0; x < frame.W; x++ {
				frame.Set(x, strip, c.Color)
			}
		case payload.Pixels:
			for x, col := range c {
				frame.Set(x, strip, col)
			}
		}
	}
	return nil
}
