// Command gridsim cycles through 0-9, A-Z and a-z on the grid, clearing
// between characters, the way the wall is smoke-tested after wiring.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/multi-led-grid/internal/app"
	"github.com/coreman2200/multi-led-grid/internal/calib"
	"github.com/coreman2200/multi-led-grid/internal/config"
	"github.com/coreman2200/multi-led-grid/internal/grid"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

const charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func main() {
	var (
		configPath = flag.String("config", "", "optional config.yaml; default is two simulated boards")
		x          = flag.Int("x", 120, "x position")
		y          = flag.Int("y", 2, "y position")
		yOffset    = flag.Int("y-offset", 5, "pen y offset inside the text image")
		rotation   = flag.Int("rotation", 90, "rotation in degrees")
		repeat     = flag.Int("repeat", 3, "copies of each character")
		postMs     = flag.Int("post-ms", 750, "delay after every display operation")
		test       = flag.String("test", "", "run a calibration pattern first: strip_sweep | rgb_channels")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "color seed")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	cfg := config.Default()
	cfg.Timing.PostOperationMs = *postMs
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("config load failed")
		}
		cfg = c
	}
	core, err := app.InitCore(cfg, log.Logger, false)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *test != "" {
		log.Info().Str("test", *test).Msg("running calibration")
		if err := core.Service.Sweep(ctx, calib.Kind(*test)); err != nil {
			log.Fatal().Err(err).Msg("calibration failed")
		}
	}

	rng := rand.New(rand.NewSource(*seed))
	for _, ch := range charset {
		s := ""
		for i := 0; i < *repeat; i++ {
			s += string(ch)
		}
		req := grid.NewTextRequest(s, *x, *y)
		req.YOffset = *yOffset
		req.Rotation = *rotation
		req.Color = raster.RGB(rng.Intn(256), rng.Intn(256), rng.Intn(256))

		log.Info().Str("text", s).Int("x", *x).Msg("displaying")
		if err := core.Service.DisplayText(ctx, req); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Str("text", s).Msg("display failed")
		}
	}
	if err := core.Service.Clear(context.Background()); err != nil {
		log.Warn().Err(err).Msg("final clear failed")
	}
	log.Info().Interface("status", core.Service.Status()).Msg("done")
}
