package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/multi-led-grid/internal/calib"
	"github.com/coreman2200/multi-led-grid/internal/compose"
	"github.com/coreman2200/multi-led-grid/internal/dispatch"
	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
	"github.com/coreman2200/multi-led-grid/internal/text"
)

// ClockFormat renders wall-clock time as zero-padded 12-hour hour-minute
// with no separator and no AM/PM, e.g. 22:05 -> "1005".
const ClockFormat = "0304"

// Options is the immutable configuration of a Service.
type Options struct {
	Width  int
	Height int

	Dispatcher *dispatch.Dispatcher
	Rasterizer *text.Rasterizer

	// PostOperationDelay elapses after every dispatch of a display
	// operation so the hardware can latch before the caller continues.
	PostOperationDelay time.Duration

	// Timeout bounds a whole operation; zero means no limit beyond ctx.
	Timeout  time.Duration
	WhiteCap float64

	Now    func() time.Time
	Sleep  dispatch.SleepFunc
	Logger *zerolog.Logger
}

// Status is a point-in-time summary for health endpoints.
type Status struct {
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	Mode        dispatch.Mode `json:"mode"`
	Controllers []string      `json:"controllers"`
	Operations  uint64        `json:"operations"`
	Failures    uint64        `json:"failures"`
	LastError   string        `json:"last_error,omitempty"`
}

// Service turns display requests into controller dispatches. Whole
// operations are serialised: a clear never interleaves with another draw.
type Service struct {
	opts  Options
	log   zerolog.Logger
	guard chan struct{}

	mu      sync.Mutex
	ops     uint64
	fails   uint64
	lastErr string
}

func New(o Options) (*Service, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("grid: invalid dimensions %dx%d", o.Width, o.Height)
	}
	if o.Dispatcher == nil {
		return nil, errors.New("grid: dispatcher is nil")
	}
	if o.Rasterizer == nil {
		o.Rasterizer = text.NewRasterizer(nil)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = dispatch.Sleep
	}
	l := log.Logger
	if o.Logger != nil {
		l = *o.Logger
	}
	return &Service{opts: o, log: l, guard: make(chan struct{}, 1)}, nil
}

// run holds the in-flight guard for the duration of op.
func (s *Service) run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	select {
	case s.guard <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.guard }()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := op(ctx)

	s.mu.Lock()
	s.ops++
	if err != nil {
		s.fails++
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Str("op", name).Msg("display operation failed")
		return err
	}
	s.log.Debug().Str("op", name).Dur("took", time.Since(start)).Msg("display operation")
	return nil
}

// send dispatches p and then waits the post-operation delay.
func (s *Service) send(ctx context.Context, p payload.Payload) error {
	if err := s.opts.Dispatcher.Dispatch(ctx, p); err != nil {
		return err
	}
	return s.opts.Sleep(ctx, s.opts.PostOperationDelay)
}

// Render rasterizes and composes a text request onto a grid-sized buffer
// without touching any controller.
func (s *Service) Render(req TextRequest) (*raster.Buffer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	xOff, yOff := req.XOffset, req.YOffset
	if req.Center {
		xOff, yOff = s.opts.Rasterizer.Center(req.Text, s.opts.Width, s.opts.Height)
	}
	// The canvas is sized before anything is allocated for it.
	w, h := s.opts.Rasterizer.Measure(req.Text)
	if err := compose.CheckBudget(w+xOff+text.Padding, h+yOff+text.Padding, s.opts.Width, s.opts.Height); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	src := s.opts.Rasterizer.Render(req.Text, xOff, yOff, req.Color)
	buf, err := compose.Compose(src, req.Rotation, req.XPosition, req.YPosition, s.opts.Width, s.opts.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	raster.WhiteCap(buf, s.opts.WhiteCap)
	return buf, nil
}

// DisplayText clears the grid, then draws req.
func (s *Service) DisplayText(ctx context.Context, req TextRequest) error {
	buf, err := s.Render(req)
	if err != nil {
		return err
	}
	draw := payload.FromBuffer(buf)
	return s.run(ctx, "text", func(ctx context.Context) error {
		return s.clearThenDraw(ctx, draw)
	})
}

func (s *Service) clearThenDraw(ctx context.Context, draw payload.Payload) error {
	if err := s.send(ctx, payload.SolidClear(s.opts.Height)); err != nil {
		return err
	}
	return s.send(ctx, draw)
}

// ClockText is the text DisplayTime shows for t.
func ClockText(t time.Time) string { return t.Format(ClockFormat) }

// DisplayTime draws the wall-clock time read once the operation starts, so
// waiting behind another operation never shows a stale minute. req.Text is
// ignored.
func (s *Service) DisplayTime(ctx context.Context, req TextRequest) error {
	req.Text = ClockText(s.opts.Now())
	if _, err := s.Render(req); err != nil {
		return err
	}
	return s.run(ctx, "time", func(ctx context.Context) error {
		req.Text = ClockText(s.opts.Now())
		buf, err := s.Render(req)
		if err != nil {
			return err
		}
		return s.clearThenDraw(ctx, payload.FromBuffer(buf))
	})
}

// Clear blanks every strip of the grid.
func (s *Service) Clear(ctx context.Context) error {
	return s.run(ctx, "clear", func(ctx context.Context) error {
		return s.send(ctx, payload.SolidClear(s.opts.Height))
	})
}

// Passthrough dispatches an already global-indexed payload as-is.
func (s *Service) Passthrough(ctx context.Context, p payload.Payload) error {
	return s.run(ctx, "passthrough", func(ctx context.Context) error {
		return s.send(ctx, p)
	})
}

// Sweep plays a calibration pattern one frame per post-operation delay and
// blanks the grid afterwards.
func (s *Service) Sweep(ctx context.Context, kind calib.Kind) error {
	if _, ok := calib.ParseKind(string(kind)); !ok {
		return fmt.Errorf("%w: unknown test %q", ErrInvalidRequest, kind)
	}
	return s.run(ctx, "test:"+string(kind), func(ctx context.Context) error {
		r := calib.NewRunner(calib.Plan{Kind: kind, Strips: s.opts.Height})
		for {
			p, ok := r.Next()
			if !ok {
				break
			}
			if err := s.send(ctx, p); err != nil {
				return err
			}
		}
		return s.send(ctx, payload.SolidClear(s.opts.Height))
	})
}

// DoCommand decodes a generic request and runs it. Recognised shapes are
// text, time, clear and test; anything else is treated as a raw global
// payload.
func (s *Service) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	var err error
	switch {
	case has(cmd, KeyText):
		str, ok := cmd[KeyText].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidRequest, KeyText)
		}
		req, perr := parseStyle(cmd)
		if perr != nil {
			return nil, perr
		}
		req.Text = str
		err = s.DisplayText(ctx, req)
	case has(cmd, KeyTime):
		req, perr := parseStyle(cmd)
		if perr != nil {
			return nil, perr
		}
		err = s.DisplayTime(ctx, req)
	case has(cmd, KeyClear):
		err = s.Clear(ctx)
	case has(cmd, KeyTest):
		name, _ := cmd[KeyTest].(string)
		err = s.Sweep(ctx, calib.Kind(name))
	default:
		p, derr := payload.Decode(cmd)
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, derr)
		}
		err = s.Passthrough(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) Status() Status {
	d := s.opts.Dispatcher
	names := make([]string, 0, len(d.Controllers()))
	for _, c := range d.Controllers() {
		names = append(names, c.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Width:       s.opts.Width,
		Height:      s.opts.Height,
		Mode:        d.Mode(),
		Controllers: names,
		Operations:  s.ops,
		Failures:    s.fails,
		LastError:   s.lastErr,
	}
}

func has(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}
