package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/multi-led-grid/internal/app"
	"github.com/coreman2200/multi-led-grid/internal/config"
	"github.com/coreman2200/multi-led-grid/internal/ws"
)

func main() {
	// ---- Flags (remain usable; config.yaml overrides them) ----
	var (
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		simOnly    = flag.Bool("sim-only", false, "force simulation (no hardware output)")
		mode       = flag.String("mode", "sequential", "dispatch mode: sequential | concurrent")
		settleMs   = flag.Int("settle-ms", 0, "delay between boards in sequential mode")
		postMs     = flag.Int("post-ms", 750, "delay after every display operation")
		fontPath   = flag.String("font", "tom-thumb.font", "Plan 9 .font or TrueType/OpenType file")
		fontSize   = flag.Float64("font-size", 12, "font size in pixels (TrueType/OpenType only)")
		debug      = flag.Bool("debug", false, "log at debug level")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// ---- Load config.yaml (optional) ----
	cfg := config.Default()
	cfg.Addr = *addr
	cfg.DispatchMode = *mode
	cfg.Timing.SettleMs = *settleMs
	cfg.Timing.PostOperationMs = *postMs
	cfg.Font = config.Font{Path: *fontPath, Size: *fontSize}
	cfg, found, err := config.LoadOrDefault(*configPath, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("config invalid")
	}
	if !found {
		log.Warn().Str("path", *configPath).Msg("config not found; proceeding with flags")
	}

	core, err := app.InitCore(cfg, log.Logger, *simOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}
	for i, ctl := range cfg.Controllers {
		log.Info().
			Str("board", ctl.Name).
			Str("driver", core.Drivers[i]).
			Stringer("strips", ctl.Range()).
			Msg("board ready")
	}

	// ---- HTTP routes ----
	server := ws.NewServer(core.Service, cfg.Grid.Width, cfg.Grid.Height, log.Logger)
	server.Attach(core.Dispatcher)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      withCORS(server.Handler()),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Timing.Timeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Int("width", cfg.Grid.Width).
			Int("height", cfg.Grid.Height).
			Str("mode", string(core.Dispatcher.Mode())).
			Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server crashed")
		}
	}()

	// ---- Graceful shutdown ----
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	s := <-ch
	log.Info().Str("signal", s.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := core.Close(); err != nil {
		log.Warn().Err(err).Msg("closing boards")
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}
