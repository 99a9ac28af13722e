// Copyright 2024 by Sven Fabricius, see LICENSE file

package sx1231

import (
	"fmt"
	"time"

	"github.com/mr-sven/x3d-rfm-esp32/radio/devices"
	"github.com/mr-sven/x3d-rfm-esp32/thread"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/frame"
)

// setMode changes the operating mode (§4.3: legal transitions are any →
// Standby → any), rewriting the DIO0 routing on every change: before the
// OP-MODE write when entering Tx or leaving Rx, right after it when
// entering Rx or moving between the other modes. Both writes precede the
// ModeReady poll, which has a modeDeadline timeout.
func (r *Radio) setMode(mode byte) {
	mode &= 0x1c
	if r.mode == mode {
		return
	}

	switch mode {
	case modeTx:
		r.writeReg(regDioMapping1, dioMapBase+dio0RoleTxDone)
		r.writeReg(regOpMode, mode)
	case modeRx:
		r.writeReg(regOpMode, mode)
		r.writeReg(regDioMapping1, dioMapBase+dio0RoleRSSI)
	default:
		if r.mode == modeRx {
			r.writeReg(regDioMapping1, dioMapBase)
			r.writeReg(regOpMode, mode)
		} else {
			r.writeReg(regOpMode, mode)
			r.writeReg(regDioMapping1, dioMapBase)
		}
	}

	deadline := time.Now().Add(modeDeadline)
	for time.Now().Before(deadline) {
		if r.readReg(regIrqFlags1)&irq1ModeReady != 0 {
			r.mode = mode
			return
		}
	}
	r.err = fmt.Errorf("sx1231: timeout switching to mode %#x", mode)
}

// receiving reports whether a reception is in progress, using sync match
// as the earliest reliable indicator (§4.3 Receive path).
func (r *Radio) receiving() bool {
	if r.mode != modeRx {
		return false
	}
	return r.readReg(regIrqFlags1)&irq1SyncMatch != 0
}

// worker is the single logical worker (§5): it owns SPI access end to end
// and selects between an interrupt (Rx payload-ready or Tx packet-sent)
// and an outgoing frame queued via Send.
func (r *Radio) worker() {
	if err := thread.Realtime(); err != nil {
		r.log("worker: realtime scheduling unavailable: %v", err)
	}
	intrChan := make(chan struct{})
	intrStop := make(chan struct{})
	go func() {
		if r.intrPin.Read() == devices.GpioHigh {
			intrChan <- struct{}{}
		}
		r.rxTimeout = 0
		t0 := time.Now()
		for {
			if r.intrPin.WaitForEdge(time.Second) {
				if r.intrPin.Read() == devices.GpioHigh {
					intrChan <- struct{}{}
				}
			} else {
				select {
				case <-intrStop:
					return
				default:
				}
				if r.mode == modeRx && r.readReg(regIrqFlags1)&irq1Timeout != 0 {
					r.log("rx restart after chip timeout")
					r.setMode(modeFS)
					r.setMode(modeRx)
				}
			}
			if dt := time.Since(t0); dt > 10*time.Second {
				perSec := float64(r.rxTimeout) / dt.Seconds()
				switch {
				case perSec > 10:
					r.writeReg(regRssiThresh, r.readReg(regRssiThresh)-1)
				case perSec < 2.5:
					r.writeReg(regRssiThresh, r.readReg(regRssiThresh)+1)
				}
				r.rxTimeout = 0
				t0 = time.Now()
			}
		}
	}()

	for r.err == nil {
		select {
		case <-intrChan:
			switch r.mode {
			case modeRx:
				r.intrReceive()
			case modeTx:
				r.intrTransmit()
			default:
				r.log("spurious interrupt in mode=%#x", r.mode)
			}
		case payload := <-r.txChan:
			if r.receiving() {
				r.intrReceive()
			}
			if r.err == nil {
				r.send(payload)
			}
		}
	}
	r.log("worker exiting: %s", r.err)
	close(r.rxChan)
	close(intrStop)
	r.intrPin.In(devices.GpioNoEdge)
	r.spi.Close()
}

// send implements the transmit path (§4.3): Standby, poll ModeReady (done
// inside setMode), push the length-prefixed payload into the FIFO with a
// single SPI burst, then switch to Transmitter.
func (r *Radio) send(payload []byte) {
	if len(payload) == 0 {
		return
	}
	if len(payload) > frame.MaxFrameSize {
		payload = payload[:frame.MaxFrameSize]
	}
	r.setMode(modeStandby)
	buf := make([]byte, len(payload)+1)
	buf[0] = byte(len(payload))
	copy(buf[1:], payload)
	r.writeReg(regFIFO|0x80, buf...)
	r.setMode(modeTx)
}

// intrTransmit handles the packet-sent interrupt and resumes reception,
// matching "the caller is responsible for calling receive_begin afterwards"
// (§4.3) by doing that resumption unconditionally here.
func (r *Radio) intrTransmit() {
	if irq2 := r.readReg(regIrqFlags2); irq2&irq2PacketSent == 0 {
		r.log("tx-done interrupt but packet not sent? irq2=%#x", irq2)
	}
	r.setMode(modeRx)
}

// intrReceive implements check_received (§4.3): once PayloadReady is
// observed, reads the FIFO, verifies the application-level CRC-16/XMODEM
// trailer (the chip's own hardware CRC is off, §4.3 air interface), and
// discards silently on mismatch, per §7's CRC-mismatch edge case.
func (r *Radio) intrReceive() {
	t0 := time.Now()
	tOut := t0.Add(time.Second * 80 * 8 / time.Duration(x3dBitrate))

	readFifo := func() []byte {
		var wBuf, rBuf [frame.MaxFrameSize + 1]byte
		wBuf[0] = regFIFO
		r.Lock()
		r.spi.Tx(wBuf[:], rBuf[:])
		r.Unlock()
		return rBuf[1:]
	}

	var rssi, fei int
	for {
		irq2 := r.readReg(regIrqFlags2)
		if irq2&irq2PayloadRdy != 0 {
			break
		}
		irq1 := r.readReg(regIrqFlags1)
		if irq1&(irq1RxReady|irq1Rssi) != irq1RxReady|irq1Rssi {
			r.log("not receiving? irq1=%#x irq2=%#x", irq1, irq2)
			return
		}
		if rssi == 0 && irq1&irq1SyncMatch != 0 {
			rssi = 0 - int(r.readReg(regRssiValue))/2
			f := int(int16(r.readReg16(regAfcMSB)))
			fei = (f * (32000000 >> 13)) >> 6
		}
		if time.Now().After(tOut) {
			r.rxTimeout++
			if irq2&irq2FifoNotEmp != 0 {
				readFifo()
			}
			r.writeReg(regPacketCfg2, 0x16)
			return
		}
		time.Sleep(time.Millisecond)
	}

	payload, ok := extractFrame(readFifo())
	if !ok {
		r.log("rx CRC mismatch, discarding")
		return
	}
	pkt := &RxPacket{Payload: payload, Rssi: rssi, Fei: fei, At: time.Now()}
	select {
	case r.rxChan <- pkt:
	default:
		r.log("rxChan full, dropping packet")
	}
}

func (r *Radio) writeReg(addr byte, data ...byte) {
	r.Lock()
	defer r.Unlock()
	wBuf := make([]byte, len(data)+1)
	rBuf := make([]byte, len(data)+1)
	wBuf[0] = addr | 0x80
	copy(wBuf[1:], data)
	r.spi.Tx(wBuf, rBuf)
}

func (r *Radio) readReg(addr byte) byte {
	r.Lock()
	defer r.Unlock()
	var buf [2]byte
	r.spi.Tx([]byte{addr & 0x7f, 0}, buf[:])
	return buf[1]
}

func (r *Radio) readReg16(addr byte) uint16 {
	r.Lock()
	defer r.Unlock()
	var buf [3]byte
	r.spi.Tx([]byte{addr & 0x7f, 0, 0}, buf[:])
	return uint16(buf[1])<<8 | uint16(buf[2])
}
