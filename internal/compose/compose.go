// Package compose rotates rasterized content in its own frame and places it
// on the logical grid.
package compose

import (
	"errors"
	"fmt"

	"github.com/coreman2200/multi-led-grid/internal/raster"
)

var (
	ErrBadRotation = errors.New("compose: rotation must be 0, 90, 180 or 270")
	ErrOverBudget  = errors.New("compose: source canvas over budget")
)

// BudgetSlack covers rasterizer padding on top of the grid-derived extent.
const BudgetSlack = 16

// Budget is the largest source extent, per axis, accepted for a destW×destH
// destination. Either axis may end up on either grid axis after rotation.
func Budget(destW, destH int) int { return 2*max(destW, destH) + BudgetSlack }

// CheckBudget rejects a w×h source canvas that exceeds Budget on any axis.
func CheckBudget(w, h, destW, destH int) error {
	if b := Budget(destW, destH); w > b || h > b {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d for a %dx%d grid", ErrOverBudget, w, h, b, b, destW, destH)
	}
	return nil
}

// ValidRotation reports whether deg is one of the supported quarter turns.
func ValidRotation(deg int) bool {
	switch deg {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// Rotate turns the whole buffer clockwise by deg. Quarter turns swap W and H.
func Rotate(src *raster.Buffer, deg int) (*raster.Buffer, error) {
	if !ValidRotation(deg) {
		return nil, fmt.Errorf("%w (got %d)", ErrBadRotation, deg)
	}
	if deg == 0 {
		return src.Clone(), nil
	}
	var dst *raster.Buffer
	if deg == 180 {
		dst = raster.New(src.W, src.H)
	} else {
		dst = raster.New(src.H, src.W)
	}
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			c := src.Pix[y*src.W+x]
			switch deg {
			case 90:
				dst.Set(src.H-1-y, x, c)
			case 180:
				dst.Set(src.W-1-x, src.H-1-y, c)
			case 270:
				dst.Set(y, src.W-1-x, c)
			}
		}
	}
	return dst, nil
}

// Paste copies src into dst with its top-left at (x,y). Pixels landing
// outside dst are dropped.
func Paste(dst, src *raster.Buffer, x, y int) {
	for sy := 0; sy < src.H; sy++ {
		dy := y + sy
		if dy < 0 || dy >= dst.H {
			continue
		}
		for sx := 0; sx < src.W; sx++ {
			dx := x + sx
			if dx < 0 || dx >= dst.W {
				continue
			}
			dst.Pix[dy*dst.W+dx] = src.Pix[sy*src.W+sx]
		}
	}
}

// Compose rotates src in its own frame, then pastes it onto a fresh black
// destW×destH canvas at (xPos, yPos).
func Compose(src *raster.Buffer, rotation, xPos, yPos, destW, destH int) (*raster.Buffer, error) {
	if err := CheckBudget(src.W, src.H, destW, destH); err != nil {
		return nil, err
	}
	rot, err := Rotate(src, rotation)
	if err != nil {
		return nil, err
	}
	dst := raster.New(destW, destH)
	Paste(dst, rot, xPos, yPos)
	return dst, nil
}
