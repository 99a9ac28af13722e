// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package periph implements radio/devices.SPI and radio/devices.GPIO on
// top of periph.io/x, the way michcald-nrf24's adapter-periph.go binds a
// radio driver to real Linux SPI/GPIO hardware. It replaces the teacher's
// github.com/kidoman/embd-backed shim with the current split periph.io/v3
// modules.
package periph

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/mr-sven/x3d-rfm-esp32/radio/devices"
)

// Init brings up the periph.io host drivers; call once per process before
// OpenSPI/OpenGPIO.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph: host init: %w", err)
	}
	return nil
}

// spiDev adapts a periph.io spi.Conn to devices.SPI.
type spiDev struct {
	port spi.PortCloser
	conn spi.Conn
}

// OpenSPI opens busPath (e.g. "/dev/spidev0.0") at speedHz in mode 0,
// matching the SX1231's required bus settings (radio/sx1231 requires
// 10MHz max, mode 0).
func OpenSPI(busPath string, speedHz int64) (devices.SPI, error) {
	p, err := spireg.Open(busPath)
	if err != nil {
		return nil, fmt.Errorf("periph: open spi %s: %w", busPath, err)
	}
	conn, err := p.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("periph: connect spi %s: %w", busPath, err)
	}
	return &spiDev{port: p, conn: conn}, nil
}

func (s *spiDev) Tx(w, r []byte) error {
	return s.conn.Tx(w, r)
}

func (s *spiDev) Speed(hz int64) error {
	// periph.io fixes the clock at Connect time; reconnecting mid-session
	// would race with in-flight transfers, so this is rejected rather than
	// silently ignored.
	return fmt.Errorf("periph: spi speed is fixed at connect time, cannot change to %d", hz)
}

func (s *spiDev) Configure(mode int, bits int) error {
	if mode != devices.SPIMode0 {
		return fmt.Errorf("periph: spi: only mode 0 is supported, got %d", mode)
	}
	if bits != 8 {
		return fmt.Errorf("periph: spi: only 8-bit words are supported, got %d", bits)
	}
	return nil
}

func (s *spiDev) Close() error {
	return s.port.Close()
}

// gpioPin adapts a periph.io gpio.PinIO to devices.GPIO.
type gpioPin struct {
	pin  gpio.PinIO
	edge chan struct{}
	stop chan struct{}
}

// OpenGPIO resolves a pin by its periph.io name (e.g. "GPIO25").
func OpenGPIO(name string) (devices.GPIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periph: gpio pin %q not found", name)
	}
	return &gpioPin{pin: p, edge: make(chan struct{}, 1)}, nil
}

func (g *gpioPin) In(edge int) error {
	pEdge := gpio.NoEdge
	switch edge {
	case devices.GpioRisingEdge:
		pEdge = gpio.RisingEdge
	case devices.GpioFallingEdge:
		pEdge = gpio.FallingEdge
	case devices.GpioBothEdges:
		pEdge = gpio.BothEdges
	}
	if err := g.pin.In(gpio.PullNoChange, pEdge); err != nil {
		return fmt.Errorf("periph: gpio in: %w", err)
	}
	if pEdge != gpio.NoEdge {
		g.startWatch()
	}
	return nil
}

func (g *gpioPin) startWatch() {
	g.stop = make(chan struct{})
	stop := g.stop
	go func() {
		for {
			if g.pin.WaitForEdge(-1) {
				select {
				case <-stop:
					return
				case g.edge <- struct{}{}:
				default:
				}
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()
}

func (g *gpioPin) Read() int {
	if g.pin.Read() == gpio.High {
		return devices.GpioHigh
	}
	return devices.GpioLow
}

func (g *gpioPin) WaitForEdge(timeout time.Duration) bool {
	to := time.After(timeout)
	select {
	case <-g.edge:
		return true
	case <-to:
		return false
	}
}

func (g *gpioPin) Out(level int) {
	l := gpio.Low
	if level == devices.GpioHigh {
		l = gpio.High
	}
	g.pin.Out(l)
}

func (g *gpioPin) Number() int {
	return g.pin.Number()
}
