package grid

import (
	"errors"
	"fmt"

	"github.com/coreman2200/multi-led-grid/internal/compose"
	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

// ErrInvalidRequest wraps every request validation failure. Requests that
// fail validation never reach a controller.
var ErrInvalidRequest = errors.New("invalid request")

// Request keys understood by DoCommand.
const (
	KeyText      = "text"
	KeyTime      = "time"
	KeyClear     = "clear"
	KeyTest      = "test"
	KeyXPosition = "x_position"
	KeyYPosition = "y_position"
	KeyXOffset   = "x_offset"
	KeyYOffset   = "y_offset"
	KeyColor     = "color"
	KeyRotation  = "rotation"
	KeyCenter    = "center"
)

// TextRequest styles and places a line of text on the grid.
type TextRequest struct {
	Text      string
	XPosition int
	YPosition int
	XOffset   int
	YOffset   int
	Color     raster.Color
	Rotation  int

	// Center replaces the offsets with ones that center the text on the grid.
	Center bool
}

// NewTextRequest fills in the defaults: white, no offset, no rotation.
func NewTextRequest(s string, x, y int) TextRequest {
	return TextRequest{Text: s, XPosition: x, YPosition: y, Color: raster.White}
}

func (r TextRequest) Validate() error {
	if !compose.ValidRotation(r.Rotation) {
		return fmt.Errorf("%w: rotation must be 0, 90, 180 or 270, got %d", ErrInvalidRequest, r.Rotation)
	}
	return nil
}

// parseStyle reads the positional and styling keys shared by text and
// time requests.
func parseStyle(cmd map[string]any) (TextRequest, error) {
	r := TextRequest{Color: raster.White}
	var err error
	if r.XPosition, err = requiredInt(cmd, KeyXPosition); err != nil {
		return r, err
	}
	if r.YPosition, err = requiredInt(cmd, KeyYPosition); err != nil {
		return r, err
	}
	if r.XOffset, err = optionalInt(cmd, KeyXOffset, 0); err != nil {
		return r, err
	}
	if r.YOffset, err = optionalInt(cmd, KeyYOffset, 0); err != nil {
		return r, err
	}
	if r.Rotation, err = optionalInt(cmd, KeyRotation, 0); err != nil {
		return r, err
	}
	if v, ok := cmd[KeyColor]; ok {
		c, err := payload.DecodeColor(v)
		if err != nil {
			return r, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, KeyColor, err)
		}
		r.Color = c
	}
	if v, ok := cmd[KeyCenter]; ok {
		b, ok := v.(bool)
		if !ok {
			return r, fmt.Errorf("%w: %s must be a boolean", ErrInvalidRequest, KeyCenter)
		}
		r.Center = b
	}
	return r, r.Validate()
}

func requiredInt(cmd map[string]any, key string) (int, error) {
	v, ok := cmd[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	n, ok := payload.AsInt(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidRequest, key)
	}
	return n, nil
}

func optionalInt(cmd map[string]any, key string, def int) (int, error) {
	if _, ok := cmd[key]; !ok {
		return def, nil
	}
	return requiredInt(cmd, key)
}
