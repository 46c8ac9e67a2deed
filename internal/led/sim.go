package led

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

// Sim keeps a board framebuffer in memory and logs a compact summary of
// every command, useful for headless runs and tests.
type Sim struct {
	name string
	log  zerolog.Logger

	mu    sync.Mutex
	frame *raster.Buffer
	calls int
}

func NewSim(name string, strips, length int, logger zerolog.Logger) *Sim {
	return &Sim{name: name, log: logger, frame: NewFrame(strips, length)}
}

func (s *Sim) Name() string { return s.name }

func (s *Sim) Execute(ctx context.Context, p payload.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Apply(s.frame, p); err != nil {
		return err
	}
	s.calls++
	s.log.Debug().
		Str("board", s.name).
		Int("call", s.calls).
		Int("strips", len(p)).
		Int("pixels", p.PixelCount()).
		Int("lit", s.frame.NonBlack()).
		Msg("sim frame")
	return nil
}

// Snapshot copies the current framebuffer.
func (s *Sim) Snapshot() *raster.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame.Clone()
}

func (s *Sim) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Sim) Close() error { return nil }
