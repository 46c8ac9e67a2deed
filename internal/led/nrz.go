package led

import (
	"context"
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"

	"github.com/coreman2200/multi-led-grid/internal/layout"
	"github.com/coreman2200/multi-led-grid/internal/payload"
	"github.com/coreman2200/multi-led-grid/internal/raster"
)

// DefaultNRZFreq is the WS2812 data rate.
const DefaultNRZFreq = 800 * physic.KiloHertz

// NRZ drives one chain of WS281x strips over SPI. All strips of the board
// are chained into a single line in Order.
type NRZ struct {
	name  string
	order layout.Serpentine

	mu    sync.Mutex
	frame *raster.Buffer
	dev   *nrzled.Dev
	port  io.Closer
	raw   []byte
}

// NewNRZ wraps an already opened SPI port.
func NewNRZ(name string, port spi.Port, strips, length int, order layout.Serpentine, freq physic.Frequency) (*NRZ, error) {
	if strips <= 0 || length <= 0 {
		return nil, fmt.Errorf("nrz %s: invalid geometry %dx%d", name, strips, length)
	}
	if freq == 0 {
		freq = DefaultNRZFreq
	}
	d, err := nrzled.NewSPI(port, &nrzled.Opts{NumPixels: strips * length, Channels: 3, Freq: freq})
	if err != nil {
		return nil, fmt.Errorf("nrz %s: %w", name, err)
	}
	return &NRZ{
		name:  name,
		order: order,
		frame: NewFrame(strips, length),
		dev:   d,
		raw:   make([]byte, strips*length*3),
	}, nil
}

// OpenNRZ initialises the host drivers and opens the named SPI port
// (empty name picks the first one).
func OpenNRZ(name, spiDev string, strips, length int, order layout.Serpentine, freq physic.Frequency) (*NRZ, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("nrz %s: host init: %w", name, err)
	}
	p, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("nrz %s: open spi %q: %w", name, spiDev, err)
	}
	n, err := NewNRZ(name, p, strips, length, order, freq)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	n.port = p
	return n, nil
}

func (n *NRZ) Name() string { return n.name }

func (n *NRZ) Execute(ctx context.Context, p payload.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := Apply(n.frame, p); err != nil {
		return err
	}
	serialize(n.raw, n.frame, n.order)
	if _, err := n.dev.Write(n.raw); err != nil {
		return fmt.Errorf("nrz %s: write: %w", n.name, err)
	}
	return nil
}

// Close blanks the chain and releases the port.
func (n *NRZ) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.dev.Halt()
	if n.port != nil {
		if cerr := n.port.Close(); err == nil {
			err = cerr
		}
		n.port = nil
	}
	return err
}

// serialize lays the frame out as RGB triples in chain order.
func serialize(dst []byte, frame *raster.Buffer, order layout.Serpentine) {
	for strip := 0; strip < frame.H; strip++ {
		for x := 0; x < frame.W; x++ {
			i := order.Index(x, strip, frame.W) * 3
			c := frame.ColorAt(x, strip)
			dst[i], dst[i+1], dst[i+2] = c.R, c.G, c.B
		}
	}
}
