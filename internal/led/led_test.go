package led

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spitest"
	"periph.io/x/devices/v3/nrzled"

	"github.com/coreman2200/multi-led-grid/internal/layout"
	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

const testFreq = 2500 * physic.KiloHertz

func TestApplySolidAndPixels(t *testing.T) {
	f := NewFrame(2, 5)
	red := raster.RGB(255, 0, 0)
	require.NoError(t, Apply(f, payload.Payload{
		0: payload.Solid{Animation: "solid", Color: red},
		1: payload.Pixels{4: raster.White},
	}))
	for x := 0; x < 5; x++ {
		assert.Equal(t, red, f.ColorAt(x, 0))
	}
	assert.Equal(t, raster.White, f.ColorAt(4, 1))
	assert.Equal(t, raster.Black, f.ColorAt(3, 1))

	require.NoError(t, Apply(f, payload.Payload{0: payload.Solid{Animation: "solid"}}))
	assert.Equal(t, raster.Black, f.ColorAt(0, 0))
}

func TestApplyRejectsWithoutSideEffects(t *testing.T) {
	f := NewFrame(2, 5)
	err := Apply(f, payload.Payload{
		0: payload.Pixels{1: raster.White},
		2: payload.Pixels{1: raster.White},
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, f.NonBlack())

	assert.ErrorIs(t, Apply(f, payload.Payload{1: payload.Pixels{5: raster.White}}), ErrOutOfRange)
	assert.ErrorIs(t, Apply(f, payload.Payload{1: payload.Solid{Animation: "rainbow"}}), ErrUnsupported)
}

func TestSimExecute(t *testing.T) {
	s := NewSim("led-col-1", 8, 140, zerolog.Nop())
	assert.Equal(t, "led-col-1", s.Name())
	require.NoError(t, s.Execute(context.Background(), payload.Payload{7: payload.Pixels{139: raster.White}}))
	assert.Equal(t, 1, s.Calls())
	assert.Equal(t, raster.White, s.Snapshot().ColorAt(139, 7))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Execute(ctx, payload.SolidClear(1)), context.Canceled)
	assert.Equal(t, 1, s.Calls())
}

func TestNRZWritesSerpentineChain(t *testing.T) {
	var got bytes.Buffer
	n, err := NewNRZ("nrz", spitest.NewRecordRaw(&got), 2, 3, layout.Serpentine{FlipEveryOther: true}, testFreq)
	require.NoError(t, err)

	p := payload.Payload{
		0: payload.Pixels{0: raster.RGB(1, 2, 3)},
		1: payload.Pixels{0: raster.RGB(4, 5, 6)},
	}
	require.NoError(t, n.Execute(context.Background(), p))

	// strip 1 runs backwards, so its pixel 0 is the last LED of the chain
	raw := []byte{
		1, 2, 3, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 4, 5, 6,
	}
	var want bytes.Buffer
	ref, err := nrzled.NewSPI(spitest.NewRecordRaw(&want), &nrzled.Opts{NumPixels: 6, Channels: 3, Freq: testFreq})
	require.NoError(t, err)
	_, err = ref.Write(raw)
	require.NoError(t, err)

	assert.Equal(t, want.Bytes(), got.Bytes())
}

func TestNRZRejectsBadGeometry(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewNRZ("nrz", spitest.NewRecordRaw(&buf), 0, 10, layout.Serpentine{}, testFreq)
	assert.Error(t, err)
}

func TestNRZOutOfRangeNotWritten(t *testing.T) {
	var got bytes.Buffer
	n, err := NewNRZ("nrz", spitest.NewRecordRaw(&got), 1, 3, layout.Serpentine{}, testFreq)
	require.NoError(t, err)
	err = n.Execute(context.Background(), payload.Payload{4: payload.Pixels{0: raster.White}})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, got.Len())
}

func wsURL(s *httptest.Server) string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func TestRemoteRoundTrip(t *testing.T) {
	board := NewSim("board", 8, 140, zerolog.Nop())
	srv := httptest.NewServer(BoardHandler(board, zerolog.Nop()))
	defer srv.Close()

	r := NewRemote("led-col-2", wsURL(srv))
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.Execute(ctx, payload.SolidClear(8)))
	require.NoError(t, r.Execute(ctx, payload.Payload{3: payload.Pixels{10: raster.RGB(9, 8, 7)}}))
	assert.Equal(t, 2, board.Calls())
	assert.Equal(t, raster.RGB(9, 8, 7), board.Snapshot().ColorAt(10, 3))

	err := r.Execute(ctx, payload.Payload{9: payload.Pixels{0: raster.White}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	// connection survives a board-level failure
	require.NoError(t, r.Execute(ctx, payload.SolidClear(1)))
}

type slowBoard struct{ d time.Duration }

func (b slowBoard) Execute(ctx context.Context, _ payload.Payload) error {
	select {
	case <-time.After(b.d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRemoteHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(BoardHandler(slowBoard{d: 2 * time.Second}, zerolog.Nop()))
	defer srv.Close()

	r := NewRemote("slow", wsURL(srv))
	defer r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Execute(ctx, payload.SolidClear(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRemoteDialFailure(t *testing.T) {
	r := NewRemote("gone", "ws://127.0.0.1:1/board")
	err := r.Execute(context.Background(), payload.SolidClear(1))
	assert.Error(t, err)
}
