package layout

import (
	"errors"
	"fmt"

	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

var (
	ErrBadRange = errors.New("layout: bad range")
	ErrOverlap  = errors.New("layout: overlapping ranges")
)

// Range is a closed interval [Start, End] of global strip indices owned by
// one controller.
type Range struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

func (r Range) Contains(i int) bool { return r.Start <= i && i <= r.End }
func (r Range) Len() int            { return r.End - r.Start + 1 }

func (r Range) String() string { return fmt.Sprintf("[%d,%d]", r.Start, r.End) }

// AddressSpace maps global strip indices to (controller ordinal, local
// index). Ordinal i is the i-th declared range. Gaps between ranges are
// allowed; overlaps are not.
type AddressSpace struct {
	ranges []Range
}

// NewAddressSpace validates and freezes the ranges.
func NewAddressSpace(ranges ...Range) (AddressSpace, error) {
	for i, r := range ranges {
		if r.Start < 0 || r.End < r.Start {
			return AddressSpace{}, fmt.Errorf("%w: controller %d: %s", ErrBadRange, i, r)
		}
		for j := 0; j < i; j++ {
			o := ranges[j]
			if r.Start <= o.End && o.Start <= r.End {
				return AddressSpace{}, fmt.Errorf("%w: controller %d %s and controller %d %s", ErrOverlap, j, o, i, r)
			}
		}
	}
	rs := make([]Range, len(ranges))
	copy(rs, ranges)
	return AddressSpace{ranges: rs}, nil
}

// Ranges returns a copy of the declared ranges.
func (s AddressSpace) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

func (s AddressSpace) Controllers() int { return len(s.ranges) }

// Locate finds the controller owning a global index. ok is false when no
// range claims it.
func (s AddressSpace) Locate(global int) (ordinal, local int, ok bool) {
	for i, r := range s.ranges {
		if r.Contains(global) {
			return i, global - r.Start, true
		}
	}
	return -1, -1, false
}

// Partition splits a global payload into one local payload per controller.
// Entries nobody owns are dropped.
func (s AddressSpace) Partition(p payload.Payload) []payload.Payload {
	out := make([]payload.Payload, len(s.ranges))
	for i := range out {
		out[i] = payload.Payload{}
	}
	for global, cmd := range p {
		ord, local, ok := s.Locate(global)
		if !ok {
			continue
		}
		out[ord][local] = cmd
	}
	return out
}

// ClearPayload blanks exactly the strips covered by the declared ranges.
func (s AddressSpace) ClearPayload() payload.Payload {
	p := payload.Payload{}
	for _, r := range s.ranges {
		for i := r.Start; i <= r.End; i++ {
			p[i] = payload.Solid{Animation: payload.AnimationSolid, Color: raster.Black}
		}
	}
	return p
}

// Serpentine describes how a board chains its strips into one NRZ line.
type Serpentine struct {
	FlipEveryOther bool `yaml:"flip_every_other"`
}

// Index maps pixel x of a strip to its position in the chain.
func (o Serpentine) Index(x, strip, length int) int {
	xx := x
	if o.FlipEveryOther && strip%2 == 1 {
		xx = length - 1 - x
	}
	return strip*length + xx
}
