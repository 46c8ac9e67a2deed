package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/coreman2200/multi-led-grid/internal/layout"
	"github.com/coreman2200/multi-led-grid/internal/payload"
)

// Controller executes a board-local payload. Implementations live in
// internal/led.
type Controller interface {
	Name() string
	Execute(ctx context.Context, p payload.Payload) error
}

// Mode selects how one dispatch issues its per-controller calls.
type Mode string

const (
	// Sequential awaits each controller and sleeps the settle delay before
	// the next one, so boards on a shared rail never switch together.
	Sequential Mode = "sequential"
	// Concurrent issues every call at once and joins them.
	Concurrent Mode = "concurrent"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Sequential:
		return Sequential, nil
	case Concurrent:
		return Concurrent, nil
	}
	return "", fmt.Errorf("dispatch: unknown mode %q", s)
}

// ControllerError reports a failed Execute call.
type ControllerError struct {
	Ordinal    int
	Controller string
	Err        error
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("controller %d (%s): %v", e.Ordinal, e.Controller, e.Err)
}

func (e *ControllerError) Unwrap() error { return e.Err }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatcher partitions global payloads and sends them to controllers.
// Controllers and the address space are fixed at construction.
type Dispatcher struct {
	controllers []Controller
	space       layout.AddressSpace
	mode        Mode
	settle      time.Duration
	sleep       SleepFunc
	log         zerolog.Logger

	mu       sync.RWMutex
	observer func(payload.Payload)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithMode(m Mode) Option { return func(d *Dispatcher) { d.mode = m } }

func WithSettleDelay(s time.Duration) Option { return func(d *Dispatcher) { d.settle = s } }

func WithSleep(f SleepFunc) Option { return func(d *Dispatcher) { d.sleep = f } }

func WithLogger(l zerolog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

// New pairs controller i with range i of space.
func New(space layout.AddressSpace, controllers []Controller, opts ...Option) (*Dispatcher, error) {
	if len(controllers) != space.Controllers() {
		return nil, fmt.Errorf("dispatch: %d controllers for %d ranges", len(controllers), space.Controllers())
	}
	for i, c := range controllers {
		if c == nil {
			return nil, fmt.Errorf("dispatch: controller %d is nil", i)
		}
	}
	d := &Dispatcher{
		controllers: append([]Controller(nil), controllers...),
		space:       space,
		mode:        Sequential,
		sleep:       Sleep,
		log:         log.Logger,
	}
	for _, o := range opts {
		o(d)
	}
	if d.mode != Sequential && d.mode != Concurrent {
		return nil, fmt.Errorf("dispatch: unknown mode %q", d.mode)
	}
	return d, nil
}

func (d *Dispatcher) Mode() Mode                 { return d.mode }
func (d *Dispatcher) Space() layout.AddressSpace { return d.space }
func (d *Dispatcher) SettleDelay() time.Duration { return d.settle }
func (d *Dispatcher) Controllers() []Controller  { return append([]Controller(nil), d.controllers...) }

// Observe registers f to receive every global payload once all of its
// controller calls have succeeded.
func (d *Dispatcher) Observe(f func(payload.Payload)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = f
}

type job struct {
	ordinal int
	local   payload.Payload
}

// Dispatch partitions p and issues the non-empty local payloads in
// controller order.
func (d *Dispatcher) Dispatch(ctx context.Context, p payload.Payload) error {
	err := d.dispatch(ctx, p)
	if err != nil {
		return err
	}
	d.mu.RLock()
	obs := d.observer
	d.mu.RUnlock()
	if obs != nil {
		obs(p)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, p payload.Payload) error {
	parts := d.space.Partition(p)
	jobs := make([]job, 0, len(parts))
	for i, local := range parts {
		if len(local) == 0 {
			continue
		}
		jobs = append(jobs, job{ordinal: i, local: local})
	}
	if len(jobs) == 0 {
		return nil
	}
	if d.mode == Concurrent {
		return d.concurrent(ctx, jobs)
	}
	return d.sequential(ctx, jobs)
}

func (d *Dispatcher) sequential(ctx context.Context, jobs []job) error {
	for n, j := range jobs {
		if n > 0 {
			if err := d.sleep(ctx, d.settle); err != nil {
				return err
			}
		}
		if err := d.execute(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) concurrent(ctx context.Context, jobs []job) error {
	errs := make([]error, len(jobs))
	var g errgroup.Group
	for n, j := range jobs {
		n, j := n, j
		g.Go(func() error {
			errs[n] = d.execute(ctx, j)
			return errs[n]
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (d *Dispatcher) execute(ctx context.Context, j job) error {
	c := d.controllers[j.ordinal]
	start := time.Now()
	err := c.Execute(ctx, j.local)
	ev := d.log.Debug()
	if err != nil {
		ev = d.log.Warn().Err(err)
	}
	ev.Str("controller", c.Name()).
		Int("ordinal", j.ordinal).
		Int("strips", len(j.local)).
		Dur("took", time.Since(start)).
		Msg("dispatch")
	if err != nil {
		return &ControllerError{Ordinal: j.ordinal, Controller: c.Name(), Err: err}
	}
	return nil
}
