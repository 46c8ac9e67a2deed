package diagnostics

import (
	"context"
	"errors"

	"github.com/coreman2200/multi-led-grid/internal/dispatch"
	"github.com/coreman2200/multi-led-grid/internal/grid"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

type Diagnostic struct {
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// FromError classifies a failed display operation.
func FromError(err error) Diagnostic {
	d := Diagnostic{Severity: Err, Code: "OP.FAILED", Summary: "Display operation failed", Detail: err.Error()}

	var ce *dispatch.ControllerError
	switch {
	case errors.Is(err, grid.ErrInvalidRequest):
		d.Severity = Warn
		d.Code = "REQUEST.INVALID"
		d.Summary = "Request rejected before dispatch"
		d.SuggestedFixes = []string{"check x_position/y_position are integers", "rotation must be 0, 90, 180 or 270"}
	case errors.Is(err, context.DeadlineExceeded):
		d.Code = "OP.TIMEOUT"
		d.Summary = "Display operation timed out"
		d.LikelyCauses = []string{"a controller stopped answering", "timing.timeout_ms too small for the settle and post-operation delays"}
	}
	if errors.As(err, &ce) {
		if d.Code == "OP.FAILED" {
			d.Code = "CONTROLLER.FAILED"
			d.Summary = "Controller rejected a payload"
			d.LikelyCauses = []string{"board offline or unreachable", "strip_length smaller than the grid width"}
		}
		d.Evidence = map[string]any{"controller": ce.Controller, "ordinal": ce.Ordinal}
	}
	return d
}
