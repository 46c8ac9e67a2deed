package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/multi-led-grid/internal/config"
	"github.com/coreman2200/multi-led-grid/internal/dispatch"
	"github.com/coreman2200/multi-led-grid/internal/grid"
	"github.com/coreman2200/multi-led-grid/internal/led"
	"github.com/coreman2200/multi-led-grid/internal/text"
)

// Board is a controller the core owns and must close.
type Board interface {
	dispatch.Controller
	io.Closer
}

// Core is everything a display process needs, built from one config.
type Core struct {
	Config     *config.Config
	Service    *grid.Service
	Dispatcher *dispatch.Dispatcher
	Boards     []Board

	// Drivers is the driver actually in use per board, after fallbacks.
	Drivers []string
}

// InitCore validates cfg and wires boards, dispatcher, text and service.
// With simOnly every board is simulated regardless of its driver.
func InitCore(cfg *config.Config, logger zerolog.Logger, simOnly bool) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	space, err := cfg.AddressSpace()
	if err != nil {
		return nil, err
	}

	c := &Core{Config: cfg}
	ctls := make([]dispatch.Controller, 0, len(cfg.Controllers))
	for _, ctl := range cfg.Controllers {
		b, drv := openBoard(cfg, ctl, logger, simOnly)
		c.Boards = append(c.Boards, b)
		c.Drivers = append(c.Drivers, drv)
		ctls = append(ctls, b)
	}

	d, err := dispatch.New(space, ctls,
		dispatch.WithMode(cfg.Mode()),
		dispatch.WithSettleDelay(cfg.Timing.Settle()),
		dispatch.WithLogger(logger))
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Dispatcher = d

	svc, err := grid.New(grid.Options{
		Width:              cfg.Grid.Width,
		Height:             cfg.Grid.Height,
		Dispatcher:         d,
		Rasterizer:         text.NewRasterizer(text.LoadFace(cfg.Font.Path, cfg.Font.Size, logger)),
		PostOperationDelay: cfg.Timing.PostOperation(),
		Timeout:            cfg.Timing.Timeout(),
		WhiteCap:           cfg.WhiteCap,
		Logger:             &logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Service = svc
	return c, nil
}

// openBoard never fails: hardware that cannot be opened is replaced by a
// simulator so the rest of the grid keeps working.
func openBoard(cfg *config.Config, ctl config.Controller, logger zerolog.Logger, simOnly bool) (Board, string) {
	strips := ctl.Range().Len()
	length := cfg.StripLength(ctl)
	driver := ctl.Driver
	if driver == "" || simOnly {
		driver = config.DriverSim
	}

	switch driver {
	case config.DriverNRZ:
		freq := led.DefaultNRZFreq
		if ctl.SPI.SpeedHz > 0 {
			freq = physic.Frequency(ctl.SPI.SpeedHz) * physic.Hertz
		}
		b, err := led.OpenNRZ(ctl.Name, ctl.SPI.Dev, strips, length, ctl.Order, freq)
		if err != nil {
			logger.Warn().Err(err).
				Str("board", ctl.Name).
				Str("driver", driver).
				Str("dev", ctl.SPI.Dev).
				Msg("NRZ init failed; falling back to SIM")
			return led.NewSim(ctl.Name, strips, length, logger), config.DriverSim
		}
		return b, driver
	case config.DriverRemote:
		return led.NewRemote(ctl.Name, ctl.URL), driver
	}
	return led.NewSim(ctl.Name, strips, length, logger), config.DriverSim
}

func (c *Core) Close() error {
	var errs []error
	for _, b := range c.Boards {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
