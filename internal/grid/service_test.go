package grid

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/multi-led-grid/internal/calib"
	"github.com/coreman2200/multi-led-grid/internal/compose"
	"github.com/coreman2200/multi-led-grid/internal/dispatch"
	"github.com/coreman2200/multi-led-grid/internal/layout"
	"github.com/coreman2200/multi-led-grid/internal/led"
	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
	"github.com/coreman2200/multi-led-grid/internal/text"
)

const (
	testW      = 20
	testH      = 8
	testSettle = 5 * time.Millisecond
	testPost   = 50 * time.Millisecond
)

// blockFace draws each rune as a 2x3 solid block.
type blockFace struct{}

func (blockFace) Measure(s string) image.Rectangle {
	if s == "" {
		return image.Rectangle{}
	}
	return image.Rect(0, 0, 2*len(s), 3)
}

func (f blockFace) Draw(mask *image.Alpha, s string, at image.Point) {
	r := f.Measure(s).Add(at)
	draw.Draw(mask, r, image.Opaque, image.Point{}, draw.Src)
}

type sleepLog struct {
	mu  sync.Mutex
	got []time.Duration
}

func (l *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	l.got = append(l.got, d)
	l.mu.Unlock()
	return ctx.Err()
}

func (l *sleepLog) list() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.got...)
}

type rig struct {
	svc    *Service
	boards []*led.Sim
	sleeps *sleepLog
	seen   []payload.Payload
}

func newRig(t *testing.T, mutate ...func(*Options)) *rig {
	t.Helper()
	space, err := layout.NewAddressSpace(layout.Range{Start: 0, End: 3}, layout.Range{Start: 4, End: 7})
	require.NoError(t, err)
	nop := zerolog.Nop()
	r := &rig{
		boards: []*led.Sim{led.NewSim("a", 4, testW, nop), led.NewSim("b", 4, testW, nop)},
		sleeps: &sleepLog{},
	}
	d, err := dispatch.New(space, []dispatch.Controller{r.boards[0], r.boards[1]},
		dispatch.WithSettleDelay(testSettle),
		dispatch.WithSleep(r.sleeps.sleep),
		dispatch.WithLogger(nop))
	require.NoError(t, err)
	d.Observe(func(p payload.Payload) { r.seen = append(r.seen, p) })

	o := Options{
		Width:              testW,
		Height:             testH,
		Dispatcher:         d,
		Rasterizer:         text.NewRasterizer(blockFace{}),
		PostOperationDelay: testPost,
		Sleep:              r.sleeps.sleep,
		Logger:             &nop,
	}
	for _, m := range mutate {
		m(&o)
	}
	r.svc, err = New(o)
	require.NoError(t, err)
	return r
}

func (r *rig) calls() int { return r.boards[0].Calls() + r.boards[1].Calls() }

func TestClockText(t *testing.T) {
	cases := map[string]time.Time{
		"1005": time.Date(2024, 3, 1, 22, 5, 0, 0, time.UTC),
		"1019": time.Date(2024, 3, 1, 10, 19, 0, 0, time.UTC),
		"1230": time.Date(2024, 3, 1, 0, 30, 59, 0, time.UTC),
		"0107": time.Date(2024, 3, 1, 13, 7, 0, 0, time.UTC),
	}
	for want, at := range cases {
		assert.Equal(t, want, ClockText(at), at.String())
	}
}

func TestDisplayTextClearsThenDraws(t *testing.T) {
	r := newRig(t)
	req := NewTextRequest("ab", 1, 2)
	require.NoError(t, r.svc.DisplayText(context.Background(), req))

	require.Len(t, r.seen, 2)
	assert.Equal(t, payload.SolidClear(testH), r.seen[0])

	// 4x3 block at (1,2) covers strips 2..4 so both boards draw.
	drawn := r.seen[1]
	assert.Equal(t, []int{2, 3, 4}, drawn.Keys())
	assert.Equal(t, 12, drawn.PixelCount())
	assert.Equal(t, []time.Duration{testSettle, testPost, testSettle, testPost}, r.sleeps.list())

	a, b := r.boards[0].Snapshot(), r.boards[1].Snapshot()
	assert.Equal(t, raster.White, a.ColorAt(1, 2))
	assert.Equal(t, raster.White, a.ColorAt(4, 3))
	assert.Equal(t, raster.Black, a.ColorAt(5, 3))
	assert.Equal(t, raster.White, b.ColorAt(1, 0))
	assert.Equal(t, raster.Black, b.ColorAt(1, 1))
	assert.Equal(t, 12, a.NonBlack()+b.NonBlack())
}

func TestDisplayTextSkipsIdleBoard(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.svc.DisplayText(context.Background(), NewTextRequest("a", 0, 0)))
	// The draw only touches board a, so no settle delay is charged.
	assert.Equal(t, []time.Duration{testSettle, testPost, testPost}, r.sleeps.list())
	assert.Equal(t, 2, r.boards[0].Calls())
	assert.Equal(t, 1, r.boards[1].Calls())
}

func TestDisplayTimeMatchesLiteral(t *testing.T) {
	at := time.Date(2024, 3, 1, 22, 5, 0, 0, time.UTC)
	r := newRig(t, func(o *Options) { o.Now = func() time.Time { return at } })
	req := NewTextRequest("ignored", 0, 1)
	require.NoError(t, r.svc.DisplayTime(context.Background(), req))

	want, err := r.svc.Render(NewTextRequest("1005", 0, 1))
	require.NoError(t, err)
	require.Len(t, r.seen, 2)
	assert.Equal(t, payload.FromBuffer(want), r.seen[1])
}

func TestRenderCenterAndRotation(t *testing.T) {
	r := newRig(t)

	req := NewTextRequest("ab", 0, 0)
	req.Center = true
	buf, err := r.svc.Render(req)
	require.NoError(t, err)
	// 4x3 text centered in 20x8 starts at (8,2).
	assert.Equal(t, raster.White, buf.ColorAt(8, 2))
	assert.Equal(t, raster.Black, buf.ColorAt(7, 2))
	assert.Equal(t, 12, buf.NonBlack())

	req = NewTextRequest("ab", 0, 0)
	req.Rotation = 90
	buf, err = r.svc.Render(req)
	require.NoError(t, err)
	assert.Equal(t, 12, buf.NonBlack())
	assert.Equal(t, testW, buf.W)
	assert.Equal(t, testH, buf.H)
}

func TestRenderAppliesWhiteCap(t *testing.T) {
	r := newRig(t, func(o *Options) { o.WhiteCap = 0.5 })
	buf, err := r.svc.Render(NewTextRequest("a", 0, 0))
	require.NoError(t, err)
	assert.Equal(t, raster.RGB(128, 128, 128), buf.ColorAt(0, 0))
}

func TestInvalidRotationTouchesNoHardware(t *testing.T) {
	r := newRig(t)
	req := NewTextRequest("ab", 0, 0)
	req.Rotation = 45
	err := r.svc.DisplayText(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, r.calls())
	assert.Empty(t, r.sleeps.list())
}

func TestClear(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.svc.DisplayText(context.Background(), NewTextRequest("abc", 0, 0)))
	require.NoError(t, r.svc.Clear(context.Background()))
	assert.Zero(t, r.boards[0].Snapshot().NonBlack())
	assert.Zero(t, r.boards[1].Snapshot().NonBlack())
	assert.Equal(t, payload.SolidClear(testH), r.seen[len(r.seen)-1])
}

func TestPassthroughDropsUnmappedStrips(t *testing.T) {
	r := newRig(t)
	p := payload.Payload{
		5:  payload.Pixels{3: raster.RGB(0, 0, 255)},
		40: payload.Pixels{0: raster.White},
	}
	require.NoError(t, r.svc.Passthrough(context.Background(), p))
	assert.Zero(t, r.boards[0].Calls())
	assert.Equal(t, 1, r.boards[1].Calls())
	assert.Equal(t, raster.RGB(0, 0, 255), r.boards[1].Snapshot().ColorAt(3, 1))
	assert.Equal(t, []time.Duration{testPost}, r.sleeps.list())
}

func TestSweepEndsBlank(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.svc.Sweep(context.Background(), calib.StripSweep))
	assert.Len(t, r.seen, testH+1)
	assert.Zero(t, r.boards[0].Snapshot().NonBlack())

	err := r.svc.Sweep(context.Background(), calib.Kind("disco"))
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDoCommand(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 41, 0, 0, time.UTC)
	r := newRig(t, func(o *Options) { o.Now = func() time.Time { return at } })
	ctx := context.Background()

	res, err := r.svc.DoCommand(ctx, map[string]any{
		"text": "hi", "x_position": 2.0, "y_position": 0.0, "color": []any{255.0, 0.0, 0.0},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true}, res)
	assert.Equal(t, raster.RGB(255, 0, 0), r.boards[0].Snapshot().ColorAt(2, 0))

	_, err = r.svc.DoCommand(ctx, map[string]any{"time": true, "x_position": 0, "y_position": 0})
	require.NoError(t, err)

	_, err = r.svc.DoCommand(ctx, map[string]any{"clear": true})
	require.NoError(t, err)
	assert.Zero(t, r.boards[0].Snapshot().NonBlack())

	_, err = r.svc.DoCommand(ctx, map[string]any{
		"6": map[string]any{"set_animation": "solid", "color": []any{0.0, 255.0, 0.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, raster.RGB(0, 255, 0), r.boards[1].Snapshot().ColorAt(0, 2))
}

func TestDoCommandRejectsBadRequests(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	bad := []map[string]any{
		{"text": "hi"},
		{"text": 7, "x_position": 0, "y_position": 0},
		{"text": "hi", "x_position": "left", "y_position": 0},
		{"text": "hi", "x_position": 0, "y_position": 0, "rotation": 45},
		{"text": "hi", "x_position": 0, "y_position": 0, "color": "red"},
		{"time": true, "y_position": 0},
		{"test": "disco"},
		{"x": map[string]any{"set_animation": "solid", "color": []any{0, 0, 0}}},
	}
	for _, cmd := range bad {
		_, err := r.svc.DoCommand(ctx, cmd)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%v", cmd)
	}
	assert.Zero(t, r.calls())
}

type failing struct{ err error }

func (failing) Name() string { return "broken" }

func (f failing) Execute(context.Context, payload.Payload) error { return f.err }

func TestControllerFailurePropagates(t *testing.T) {
	boom := errors.New("board offline")
	space, err := layout.NewAddressSpace(layout.Range{Start: 0, End: 7})
	require.NoError(t, err)
	d, err := dispatch.New(space, []dispatch.Controller{failing{boom}}, dispatch.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	nop := zerolog.Nop()
	svc, err := New(Options{Width: testW, Height: testH, Dispatcher: d, Logger: &nop})
	require.NoError(t, err)

	err = svc.Clear(context.Background())
	require.ErrorIs(t, err, boom)
	var ce *dispatch.ControllerError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "broken", ce.Controller)

	st := svc.Status()
	assert.Equal(t, uint64(1), st.Operations)
	assert.Equal(t, uint64(1), st.Failures)
	assert.Contains(t, st.LastError, "board offline")
	assert.Equal(t, []string{"broken"}, st.Controllers)
}

// gate blocks Execute until released so overlapping operations can be
// observed.
type gate struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	active int
	peak   int
}

func (g *gate) Name() string { return "gate" }

func (g *gate) Execute(ctx context.Context, _ payload.Payload) error {
	g.mu.Lock()
	g.active++
	g.peak = max(g.peak, g.active)
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return nil
}

func TestOperationsDoNotOverlap(t *testing.T) {
	g := &gate{entered: make(chan struct{}, 4), release: make(chan struct{})}
	space, err := layout.NewAddressSpace(layout.Range{Start: 0, End: 7})
	require.NoError(t, err)
	d, err := dispatch.New(space, []dispatch.Controller{g}, dispatch.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	nop := zerolog.Nop()
	svc, err := New(Options{Width: testW, Height: testH, Dispatcher: d, Logger: &nop})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Clear(context.Background()))
		}()
	}
	<-g.entered
	select {
	case <-g.entered:
		t.Fatal("second operation started while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	g.release <- struct{}{}
	<-g.entered
	g.release <- struct{}{}
	wg.Wait()
	assert.Equal(t, 1, g.peak)
}

func TestGuardHonoursContext(t *testing.T) {
	g := &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	space, err := layout.NewAddressSpace(layout.Range{Start: 0, End: 7})
	require.NoError(t, err)
	d, err := dispatch.New(space, []dispatch.Controller{g}, dispatch.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	nop := zerolog.Nop()
	svc, err := New(Options{Width: testW, Height: testH, Dispatcher: d, Logger: &nop})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Clear(context.Background()) }()
	<-g.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Clear(ctx), context.DeadlineExceeded)

	g.release <- struct{}{}
	require.NoError(t, <-done)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Width: 0, Height: 8})
	assert.Error(t, err)
	_, err = New(Options{Width: 8, Height: 8})
	assert.Error(t, err)
}

func TestRenderEnforcesCanvasBudget(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.svc.DoCommand(ctx, map[string]any{
		"text": "1", "x_position": 0, "y_position": 0, "x_offset": 4000, "y_offset": 4000,
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, compose.ErrOverBudget)

	long := NewTextRequest(strings.Repeat("a", 30), 0, 0)
	_, err = r.svc.Render(long)
	assert.ErrorIs(t, err, compose.ErrOverBudget)
	assert.Zero(t, r.calls())
	assert.Empty(t, r.sleeps.list())

	// 4 wide + 40 offset + padding still fits a 20x8 grid's budget.
	req := NewTextRequest("ab", 0, 0)
	req.XOffset = 40
	_, err = r.svc.Render(req)
	assert.NoError(t, err)
}

// clock is a settable time source.
type clock struct {
	mu    sync.Mutex
	now   time.Time
	reads int
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func TestDisplayTimeReadsClockWhenItRuns(t *testing.T) {
	g := &gate{entered: make(chan struct{}, 4), release: make(chan struct{})}
	space, err := layout.NewAddressSpace(layout.Range{Start: 0, End: 7})
	require.NoError(t, err)
	nop := zerolog.Nop()
	d, err := dispatch.New(space, []dispatch.Controller{g}, dispatch.WithLogger(nop))
	require.NoError(t, err)
	var seen []payload.Payload
	d.Observe(func(p payload.Payload) { seen = append(seen, p) })

	clk := &clock{now: time.Date(2024, 3, 1, 10, 19, 0, 0, time.UTC)}
	svc, err := New(Options{
		Width:      testW,
		Height:     testH,
		Dispatcher: d,
		Now:        clk.Now,
		Logger:     &nop,
	})
	require.NoError(t, err)

	cleared := make(chan error, 1)
	go func() { cleared <- svc.Clear(context.Background()) }()
	<-g.entered

	shown := make(chan error, 1)
	go func() { shown <- svc.DisplayTime(context.Background(), NewTextRequest("", 0, 0)) }()
	require.Eventually(t, func() bool { return clk.readCount() > 0 }, time.Second, time.Millisecond)

	// The minute turns over while DisplayTime waits for the guard.
	clk.set(time.Date(2024, 3, 1, 10, 20, 0, 0, time.UTC))
	close(g.release)
	require.NoError(t, <-cleared)
	require.NoError(t, <-shown)

	want, err := svc.Render(NewTextRequest("1020", 0, 0))
	require.NoError(t, err)
	stale, err := svc.Render(NewTextRequest("1019", 0, 0))
	require.NoError(t, err)
	require.False(t, want.Equal(stale))
	require.Len(t, seen, 3)
	assert.Equal(t, payload.FromBuffer(want), seen[2])
}
