// Command boardsim emulates one remote controller board: it accepts
// board-local payloads over a websocket and keeps the frame in memory.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/multi-led-grid/internal/led"
)

func main() {
	var (
		addr   = flag.String("addr", ":9090", "listen address")
		name   = flag.String("name", "led-col-1", "board name")
		strips = flag.Int("strips", 8, "strips on this board")
		length = flag.Int("length", 140, "LEDs per strip")
		debug  = flag.Bool("debug", true, "log every frame")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	if !*debug {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	board := led.NewSim(*name, *strips, *length, log.Logger)
	mux := http.NewServeMux()
	mux.Handle("/board", led.BoardHandler(board, log.Logger))

	log.Info().Str("addr", *addr).Str("board", *name).Int("strips", *strips).Int("length", *length).Msg("board emulator listening on /board")
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal().Err(err).Msg("board emulator stopped")
	}
}
