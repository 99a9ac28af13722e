// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package sx1231 drives a Semtech SX1231/RFM69 radio over SPI for the X3D
// mesh's air interface (§4.3): 868.95MHz, FSK, 40kbit/s, 80kHz FDEV, 125kHz
// RX bandwidth, 41.7kHz AFC bandwidth, a 4-byte preamble, the 4-byte sync
// word 81 69 96 7E, variable-length packets, whitening, and no hardware
// CRC — the payload carries its own CRC-16/XMODEM trailer (x3d/frame),
// checked here at the radio boundary so a corrupt frame never reaches the
// transaction engine.
//
// The driver is interrupt driven: DIO0 is wired to a rising-edge capable
// GPIO pin and signals packet-sent in Tx. In Rx it is mapped to the RSSI
// threshold signal, not to PayloadReady; after that interrupt the worker
// polls for PayloadReady within the frame's air time. All
// SPI access goes through one lock; the interrupt goroutine never touches
// it directly, it only wakes the worker loop.
package sx1231

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mr-sven/x3d-rfm-esp32/radio/devices"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/frame"
)

const rxChanCap = 4
const txChanCap = 4

// modeDeadline bounds the ModeReady poll in setMode and each pattern of the
// SPI probe. A ModeReady timeout is recorded as the persistent error that
// ends the worker, so later Sends fail. PayloadReady is bounded by
// intrReceive's own air-time timeout, and PacketSent is signalled by
// interrupt rather than polled.
const modeDeadline = 50 * time.Millisecond

// LogPrintf is the logging hook every stateful component in this module
// accepts; nil disables logging.
type LogPrintf func(format string, v ...interface{})

// RxPacket is one received, CRC-verified frame with radio stats.
type RxPacket struct {
	Payload []byte
	Rssi    int
	Fei     int
	At      time.Time
}

// Radio drives one SX1231 over SPI+GPIO. Send/Receive satisfy
// x3d/engine.Radio so the transaction engine never imports this package
// concretely.
type Radio struct {
	spi     devices.SPI
	intrPin devices.GPIO
	power   byte

	sync.Mutex
	mode      byte
	rxTimeout uint32
	err       error
	rxChan    chan *RxPacket
	txChan    chan []byte
	frameChan chan []byte // Payload-only relay consumed by Receive()
	statsChan chan *RxPacket // Full RxPacket relay consumed by ReceiveStats()
	log       LogPrintf
}

// Opts configures Radio.New. Sync, Freq, Bitrate and Fdev default to the
// X3D air-interface constants (§4.3) when left zero; overriding them is
// only useful for bench testing against a different sync word.
type Opts struct {
	Sync    []byte
	Freq    uint32
	Bitrate uint32
	Fdev    uint32
	Power   byte
	Logger  LogPrintf
}

// New brings up the radio: SPI sync probe, register configuration, the
// X3D bitrate/frequency/sync programming, an interrupt self-test, and
// finally starts the worker goroutine in receive mode.
func New(spi devices.SPI, intr devices.GPIO, opts Opts) (*Radio, error) {
	r := &Radio{
		spi: spi, intrPin: intr,
		mode: 0xff,
		err:  fmt.Errorf("sx1231: not initialized"),
		log:  func(string, ...interface{}) {},
	}
	if opts.Logger != nil {
		r.log = func(format string, v ...interface{}) { opts.Logger("sx1231: "+format, v...) }
	}
	if opts.Power == 0 {
		opts.Power = 13
	}
	if len(opts.Sync) == 0 {
		opts.Sync = x3dSync
	}
	if opts.Bitrate == 0 {
		opts.Bitrate = x3dBitrate
	}
	if opts.Fdev == 0 {
		opts.Fdev = x3dFdevHz
	}
	if opts.Freq == 0 {
		opts.Freq = x3dFreqHz
	}

	if err := spi.Speed(4 * 1000 * 1000); err != nil {
		return nil, fmt.Errorf("sx1231: spi speed: %w", err)
	}
	if err := spi.Configure(devices.SPIMode0, 8); err != nil {
		return nil, fmt.Errorf("sx1231: spi configure: %w", err)
	}

	if err := r.probe(); err != nil {
		return nil, err
	}

	r.setMode(modeSleep)
	r.setMode(modeStandby)
	r.log("version %#x", r.readReg(regVersion))

	for i := 0; i < len(configRegs)-1; i += 2 {
		r.writeReg(configRegs[i], configRegs[i+1])
	}
	r.setMode(modeStandby)

	r.configureRate(opts.Bitrate, opts.Fdev)
	r.setFrequency(opts.Freq)
	r.setPower(opts.Power)
	r.configureSync(opts.Sync)

	r.rxChan = make(chan *RxPacket, rxChanCap)
	r.txChan = make(chan []byte, txChanCap)
	r.frameChan = make(chan []byte, rxChanCap)
	r.statsChan = make(chan *RxPacket, rxChanCap)

	if err := r.selfTestInterrupt(); err != nil {
		return nil, err
	}

	go r.relayPayloads()
	go r.worker()
	r.err = nil
	r.setMode(modeRx)

	return r, nil
}

// probe writes two known patterns to SYNCVALUE1 and reads them back within
// modeDeadline, establishing that SPI framing is correct before anything
// else is trusted (§4.3 Initialisation).
func (r *Radio) probe() error {
	try := func(pattern byte) error {
		deadline := time.Now().Add(modeDeadline)
		for time.Now().Before(deadline) {
			r.writeReg(regSyncValue1, pattern)
			if r.readReg(regSyncValue1) == pattern {
				return nil
			}
		}
		return errors.New("sx1231: sync probe timeout")
	}
	if err := try(0xaa); err != nil {
		return err
	}
	return try(0x55)
}

// configureRate programs the bit rate and frequency deviation registers
// per §4.3's formulas (register = round(32e6/bitrate), round(Fdev/Fstep)
// with Fstep = 32MHz/2^19), plus the fixed 125kHz RX bandwidth and 41.7kHz
// AFC bandwidth this gateway always uses.
func (r *Radio) configureRate(bitrate, fdevHz uint32) {
	mode := r.mode
	r.setMode(modeStandby)

	rateVal := bitrateReg(bitrate)
	r.writeReg(regBitrateMSB, byte(rateVal>>8), byte(rateVal))

	fdevVal := fdevReg(fdevHz)
	r.writeReg(regFdevMSB, byte(fdevVal>>8), byte(fdevVal))

	r.writeReg(regDataModul, 0x00) // packet mode, FSK, no shaping
	r.writeReg(regRxBw, 0x42, 0x53)

	r.writeReg(regTestAfc, testAfcReg(fdevHz))
	if r.readReg(regAfcCtrl) != 0x00 {
		r.setMode(modeFS) // AfcCtrl can only be written outside Standby
		r.writeReg(regAfcCtrl, 0x00)
	}
	r.setMode(mode)
}

// setFrequency programs the 24-bit carrier frequency register from a
// frequency in Hz (register = round(freq/Fstep), Fstep = 32MHz/2^19).
func (r *Radio) setFrequency(freqHz uint32) {
	mode := r.mode
	r.setMode(modeStandby)
	frf := frfReg(freqHz)
	r.writeReg(regFrfMSB, byte(frf>>10), byte(frf>>2), byte(frf<<6))
	r.setMode(mode)
}

// setPower configures PA0 output power in dBm, clamped to PA0's 13dBm max
// (the X3D actuators are low-power mains/battery devices, no PA boost).
func (r *Radio) setPower(dbm byte) {
	mode := r.mode
	r.setMode(modeStandby)
	if dbm > 13 {
		dbm = 13
	}
	r.writeReg(regPaLevel, 0x80+18+dbm)
	r.writeReg(regTestPA1, 0x55)
	r.writeReg(regTestPA2, 0x70)
	r.power = dbm
	r.setMode(mode)
}

// configureSync writes SyncConfig (on, size = len(sync)-1) and the sync
// value bytes in one SPI burst.
func (r *Radio) configureSync(sync []byte) {
	wBuf := make([]byte, len(sync)+2)
	rBuf := make([]byte, len(sync)+2)
	wBuf[0] = regSyncConfig | 0x80
	wBuf[1] = syncConfigByte(len(sync))
	copy(wBuf[2:], sync)
	r.spi.Tx(wBuf, rBuf)
}

// selfTestInterrupt verifies the DIO0 pin actually delivers interrupts
// before the worker goroutine comes to depend on it.
func (r *Radio) selfTestInterrupt() error {
	if err := r.intrPin.In(devices.GpioRisingEdge); err != nil {
		return fmt.Errorf("sx1231: interrupt pin init: %w", err)
	}
	for r.intrPin.WaitForEdge(0) {
	}
	r.setMode(modeFS)
	r.writeReg(regDioMapping1, dioMapBase+dio0RoleRSSI)
	if !r.intrPin.WaitForEdge(100 * time.Millisecond) {
		return fmt.Errorf("sx1231: interrupt self-test failed on gpio%d", r.intrPin.Number())
	}
	r.writeReg(regDioMapping1, dioMapBase)
	for r.intrPin.WaitForEdge(0) {
	}
	return nil
}

// Send queues payload for transmission; satisfies x3d/engine.Radio.
func (r *Radio) Send(payload []byte) error {
	if r.err != nil {
		return r.err
	}
	if len(payload) == 0 || len(payload) > frame.MaxFrameSize {
		return fmt.Errorf("sx1231: invalid payload length %d", len(payload))
	}
	r.txChan <- append([]byte(nil), payload...)
	return nil
}

// Receive returns the channel of CRC-verified, payload-only received
// frames; satisfies x3d/engine.Radio.
func (r *Radio) Receive() <-chan []byte { return r.frameChan }

// ReceiveStats returns the channel of CRC-verified received frames with
// their Rssi/Fei radio stats attached, for diagnostic callers such as
// cmd/x3d-check that want link quality rather than just the payload.
func (r *Radio) ReceiveStats() <-chan *RxPacket { return r.statsChan }

// Error returns any persistent fault recorded by the worker goroutine.
func (r *Radio) Error() error { return r.err }

// SetLogger replaces the logging hook; nil disables logging.
func (r *Radio) SetLogger(l LogPrintf) {
	if l != nil {
		r.log = l
	} else {
		r.log = func(string, ...interface{}) {}
	}
}

// relayPayloads forwards RxPacket.Payload onto the plain []byte channel
// x3d/engine consumes, and the full RxPacket (with its Rssi/Fei stats)
// onto statsChan for diagnostics callers such as cmd/x3d-check.
func (r *Radio) relayPayloads() {
	for pkt := range r.rxChan {
		select {
		case r.frameChan <- pkt.Payload:
		default:
			r.log("frame relay full, dropping packet")
		}
		select {
		case r.statsChan <- pkt:
		default:
		}
	}
	close(r.frameChan)
	close(r.statsChan)
}
