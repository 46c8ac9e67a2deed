package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/coreman2200/multi-led-grid/internal/raster"
)

const (
	keySetAnimation  = "set_animation"
	keyColor         = "color"
	keySetPixelColor = "set_pixel_colors"
)

// ErrBadCommand is returned for payload entries that match neither command
// shape.
var ErrBadCommand = errors.New("payload: bad command")

// Wire returns the JSON-ready form with string keys, as boards expect it.
func (p Payload) Wire() map[string]any {
	out := make(map[string]any, len(p))
	for idx, c := range p {
		out[strconv.Itoa(idx)] = wireCommand(c)
	}
	return out
}

func wireCommand(c Command) map[string]any {
	switch v := c.(type) {
	case Solid:
		return map[string]any{keySetAnimation: v.Animation, keyColor: v.Color.Slice()}
	case Pixels:
		px := make(map[string][]int, len(v))
		for x, col := range v {
			px[strconv.Itoa(x)] = col.Slice()
		}
		return map[string]any{keySetPixelColor: px}
	}
	panic(fmt.Sprintf("payload: unknown command %T", c))
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Wire())
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	dec, err := Decode(raw)
	if err != nil {
		return err
	}
	*p = dec
	return nil
}

// Decode parses a generic map (as produced by encoding/json or a yaml
// decoder) into a Payload.
func Decode(raw map[string]any) (Payload, error) {
	p := make(Payload, len(raw))
	for k, v := range raw {
		idx, err := parseIndex(k)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrBadCommand, k, err)
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: key %q: expected object, got %T", ErrBadCommand, k, v)
		}
		c, err := decodeCommand(obj)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrBadCommand, k, err)
		}
		p[idx] = c
	}
	return p, nil
}

func decodeCommand(obj map[string]any) (Command, error) {
	anim, hasAnim := obj[keySetAnimation]
	px, hasPx := obj[keySetPixelColor]
	switch {
	case hasAnim && hasPx:
		return nil, errors.New("both set_animation and set_pixel_colors present")
	case hasAnim:
		name, ok := anim.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("set_animation must be a string, got %T", anim)
		}
		col := raster.Black
		if cv, ok := obj[keyColor]; ok {
			c, err := DecodeColor(cv)
			if err != nil {
				return nil, err
			}
			col = c
		}
		return Solid{Animation: name, Color: col}, nil
	case hasPx:
		m, ok := px.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("set_pixel_colors must be an object, got %T", px)
		}
		out := make(Pixels, len(m))
		for xs, cv := range m {
			x, err := parseIndex(xs)
			if err != nil {
				return nil, fmt.Errorf("pixel %q: %v", xs, err)
			}
			c, err := DecodeColor(cv)
			if err != nil {
				return nil, fmt.Errorf("pixel %q: %v", xs, err)
			}
			out[x] = c
		}
		return out, nil
	}
	return nil, errors.New("neither set_animation nor set_pixel_colors present")
}

// DecodeColor accepts a 3-element list of integral numbers. Channels are
// clamped into 0..255.
func DecodeColor(v any) (raster.Color, error) {
	var vals []any
	switch t := v.(type) {
	case []any:
		vals = t
	case []int:
		for _, n := range t {
			vals = append(vals, n)
		}
	case [3]int:
		return raster.RGB(t[0], t[1], t[2]), nil
	default:
		return raster.Color{}, fmt.Errorf("color must be a list of 3 integers, got %T", v)
	}
	if len(vals) != 3 {
		return raster.Color{}, fmt.Errorf("color must have 3 components, got %d", len(vals))
	}
	var ch [3]int
	for i, cv := range vals {
		n, ok := AsInt(cv)
		if !ok {
			return raster.Color{}, fmt.Errorf("color component %d is not an integer", i)
		}
		ch[i] = n
	}
	return raster.RGB(ch[0], ch[1], ch[2]), nil
}

// AsInt reports the integral value of a decoded number. Floats with a
// fractional part are rejected.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer index")
	}
	if n < 0 {
		return 0, fmt.Errorf("negative index %d", n)
	}
	return n, nil
}
