// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package devices defines the SPI/GPIO surface radio/sx1231 drives its
// hardware through. Keeping these as small interfaces (rather than
// depending on periph.io directly) is what let the teacher swap the
// embd-backed shim for a different library without touching the radio
// driver; radio/periph is the periph.io/v3 implementation used here.
package devices

import "time"

// SPI is a full-duplex SPI transaction surface.
type SPI interface {
	Tx(w, r []byte) error
	Speed(hz int64) error
	Configure(mode int, bits int) error
	Close() error
}

// SPI mode constants (CPOL/CPHA), matching the teacher's shim.go.
const (
	SPIMode0 = 0x0
	SPIMode1 = 0x1
	SPIMode2 = 0x2
	SPIMode3 = 0x3
)

// GPIO is a single digital pin, usable as input (with edge-triggered
// interrupt wait) or output.
type GPIO interface {
	In(edge int) error
	Read() int
	WaitForEdge(timeout time.Duration) bool
	Out(level int)
	Number() int
}

// GPIO level and edge constants, matching the teacher's shim.go.
const (
	GpioLow         = 0
	GpioHigh        = 1
	GpioNoEdge      = 0
	GpioRisingEdge  = 1
	GpioFallingEdge = 2
	GpioBothEdges   = 3
)
