package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coreman2200/multi-led-grid/internal/dispatch"
	"github.com/coreman2200/multi-led-grid/internal/layout"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Driver names.
const (
	DriverSim    = "sim"
	DriverNRZ    = "nrz"
	DriverRemote = "remote"
)

type Grid struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type SPI struct {
	Dev     string `yaml:"dev"`      // e.g. /dev/spidev0.0, empty picks the first port
	SpeedHz int    `yaml:"speed_hz"` // NRZ data rate, default 800000
}

type Controller struct {
	Name        string            `yaml:"name"`
	Driver      string            `yaml:"driver"` // "sim" | "nrz" | "remote"
	Start       int               `yaml:"start"`
	End         int               `yaml:"end"`
	StripLength int               `yaml:"strip_length,omitempty"` // defaults to grid width
	Order       layout.Serpentine `yaml:"order,omitempty"`
	SPI         SPI               `yaml:"spi,omitempty"`
	URL         string            `yaml:"url,omitempty"`
}

// Range returns the controller's global strip range.
func (c Controller) Range() layout.Range { return layout.Range{Start: c.Start, End: c.End} }

type Timing struct {
	SettleMs        int `yaml:"settle_ms"`
	PostOperationMs int `yaml:"post_operation_ms"`
	TimeoutMs       int `yaml:"timeout_ms"`
}

func (t Timing) Settle() time.Duration        { return time.Duration(t.SettleMs) * time.Millisecond }
func (t Timing) PostOperation() time.Duration { return time.Duration(t.PostOperationMs) * time.Millisecond }
func (t Timing) Timeout() time.Duration       { return time.Duration(t.TimeoutMs) * time.Millisecond }

type Font struct {
	Path string  `yaml:"path"`
	Size float64 `yaml:"size"`
}

type Config struct {
	Addr         string       `yaml:"addr"`
	Grid         Grid         `yaml:"grid"`
	Controllers  []Controller `yaml:"controllers"`
	Timing       Timing       `yaml:"timing"`
	DispatchMode string       `yaml:"dispatch_mode"` // "sequential" | "concurrent"
	Font         Font         `yaml:"font"`
	WhiteCap     float64      `yaml:"white_cap"`
}

// Default mirrors the reference wall: 140x16 split over two boards.
func Default() *Config {
	return &Config{
		Addr: ":8080",
		Grid: Grid{Width: 140, Height: 16},
		Controllers: []Controller{
			{Name: "led-col-1", Driver: DriverSim, Start: 0, End: 7},
			{Name: "led-col-2", Driver: DriverSim, Start: 8, End: 15},
		},
		Timing:       Timing{SettleMs: 0, PostOperationMs: 750, TimeoutMs: 10000},
		DispatchMode: string(dispatch.Sequential),
		Font:         Font{Path: "tom-thumb.font", Size: 12},
	}
}

// Load reads a YAML config over the timing, font and mode defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Grid and controllers have no defaults in a file; Validate rejects
	// them when absent.
	c := Default()
	c.Grid = Grid{}
	c.Controllers = nil
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadOrDefault is Load, except that a missing file yields fallback with
// found false. Every other failure, including ErrInvalid, is returned.
func LoadOrDefault(path string, fallback *Config) (c *Config, found bool, err error) {
	c, err = Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fallback, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks everything the pipeline relies on before any hardware
// is touched.
func (c *Config) Validate() error {
	if c.Grid.Width <= 0 {
		return fmt.Errorf("%w: grid.width is required and must be positive", ErrInvalid)
	}
	if c.Grid.Height <= 0 {
		return fmt.Errorf("%w: grid.height is required and must be positive", ErrInvalid)
	}
	if len(c.Controllers) == 0 {
		return fmt.Errorf("%w: at least one controller is required", ErrInvalid)
	}
	names := map[string]bool{}
	for i, ctl := range c.Controllers {
		if ctl.Name == "" {
			return fmt.Errorf("%w: controllers[%d]: name is required", ErrInvalid, i)
		}
		if names[ctl.Name] {
			return fmt.Errorf("%w: controllers[%d]: duplicate name %q", ErrInvalid, i, ctl.Name)
		}
		names[ctl.Name] = true
		switch ctl.Driver {
		case "", DriverSim, DriverNRZ:
		case DriverRemote:
			if ctl.URL == "" {
				return fmt.Errorf("%w: controllers[%d] %s: remote driver needs url", ErrInvalid, i, ctl.Name)
			}
		default:
			return fmt.Errorf("%w: controllers[%d] %s: unknown driver %q", ErrInvalid, i, ctl.Name, ctl.Driver)
		}
		if ctl.StripLength < 0 {
			return fmt.Errorf("%w: controllers[%d] %s: strip_length must not be negative", ErrInvalid, i, ctl.Name)
		}
	}
	if _, err := c.AddressSpace(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := dispatch.ParseMode(c.DispatchMode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Timing.SettleMs < 0 || c.Timing.PostOperationMs < 0 || c.Timing.TimeoutMs < 0 {
		return fmt.Errorf("%w: timing values must not be negative", ErrInvalid)
	}
	if c.WhiteCap < 0 || c.WhiteCap > 1 {
		return fmt.Errorf("%w: white_cap must be within 0..1", ErrInvalid)
	}
	return nil
}

// AddressSpace builds the global strip partition from the controller list.
func (c *Config) AddressSpace() (layout.AddressSpace, error) {
	rs := make([]layout.Range, len(c.Controllers))
	for i, ctl := range c.Controllers {
		rs[i] = ctl.Range()
	}
	return layout.NewAddressSpace(rs...)
}

// Mode returns the parsed dispatch mode; call Validate first.
func (c *Config) Mode() dispatch.Mode {
	m, _ := dispatch.ParseMode(c.DispatchMode)
	return m
}

// StripLength falls back to the grid width.
func (c *Config) StripLength(ctl Controller) int {
	if ctl.StripLength > 0 {
		return ctl.StripLength
	}
	return c.Grid.Width
}
