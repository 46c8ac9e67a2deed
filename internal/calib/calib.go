// Package calib produces calibration patterns that check the strip wiring
// of a multi-board grid.
package calib

import (
	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

type Kind string

const (
	None       Kind = ""
	StripSweep Kind = "strip_sweep"
	RGBTest    Kind = "rgb_channels"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case StripSweep, RGBTest:
		return Kind(s), true
	}
	return None, false
}

type Plan struct {
	Kind   Kind
	Strips int
}

type Runner struct {
	plan Plan
	step int
}

func NewRunner(plan Plan) *Runner { return &Runner{plan: plan} }
func (r *Runner) Kind() Kind      { return r.plan.Kind }

// Steps returns how many frames the plan has.
func (r *Runner) Steps() int {
	switch r.plan.Kind {
	case StripSweep:
		return r.plan.Strips
	case RGBTest:
		return 3
	}
	return 0
}

// Next returns the payload for the next step; false when complete.
func (r *Runner) Next() (payload.Payload, bool) {
	if r.step >= r.Steps() {
		return nil, false
	}
	p := payload.SolidClear(r.plan.Strips)
	switch r.plan.Kind {
	case StripSweep:
		p[r.step] = payload.Solid{Animation: payload.AnimationSolid, Color: raster.White}
	case RGBTest:
		c := [3]raster.Color{raster.RGB(255, 0, 0), raster.RGB(0, 255, 0), raster.RGB(0, 0, 255)}[r.step]
		for i := range p {
			p[i] = payload.Solid{Animation: payload.AnimationSolid, Color: c}
		}
	}
	r.step++
	return p, true
}
