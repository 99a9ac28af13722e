// Copyright 2024 by Sven Fabricius, see LICENSE file

package engine

import (
	"time"

	"github.com/mr-sven/x3d-rfm-esp32/x3d/frame"
)

// PairResult is the outcome of a Pair transaction.
type PairResult struct {
	Slot   int  // target slot number (only meaningful if Paired)
	Paired bool // true if the pinned round's ack mask confirmed the slot
}

// Pair runs the two-round pairing transaction (§4.4) against the lowest
// unoccupied slot in occupied. occupied is the network's current occupied
// mask (§4.5's OccupiedMask); it is not mutated here, the caller updates
// its cache only once Paired is true.
func (e *Engine) Pair(network byte, occupied uint16) (PairResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	targetSlot := lowestZeroBit(occupied)
	if targetSlot < 0 {
		return PairResult{}, nil
	}
	ackMask := uint16(1) << uint(targetSlot)
	hasPrior := deviceCount(occupied) > 0

	pi := e.prepare(network, frame.MsgPairing, 0x85, extHeaderStandard)
	frame.SetMessageRetrans(e.buf[:], pi, retryPairing, occupied)
	frame.SetPairingData(e.buf[:], pi, byte(targetSlot), hasPrior, 0, frame.PairOpen)
	if err := e.transmit(); err != nil {
		return PairResult{}, err
	}
	e.merge(pi, e.pairOpenWait)

	pin := frame.GetPairingPin(e.buf[:], pi)
	if pin == 0 {
		e.log("pair: no device answered the open round on network %d", network)
		return PairResult{}, nil
	}

	pi = e.prepare(network, frame.MsgPairing, 0x85, extHeaderStandard)
	frame.SetMessageRetrans(e.buf[:], pi, retryPairing, occupied)
	frame.SetPairingData(e.buf[:], pi, byte(targetSlot), hasPrior, pin, frame.PairPinned)
	if err := e.transmit(); err != nil {
		return PairResult{}, err
	}
	wait := time.Duration(deviceCount(occupied)+1) * waitRetryFactor * msgDelay
	e.merge(pi, wait)

	ack := frame.GetRetransAck(e.buf[:], pi)
	if ack&ackMask != ackMask {
		e.log("pair: pinned round not acked for slot %d on network %d", targetSlot, network)
		return PairResult{}, nil
	}
	return PairResult{Slot: targetSlot, Paired: true}, nil
}

// Unpair runs the unpair transaction against slot (0-15) and returns the
// transfer mask with that slot's bit cleared.
func (e *Engine) Unpair(network byte, slot int, transfer uint16) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	targetMask := uint16(1) << uint(slot&0x0f)

	pi := e.prepare(network, frame.MsgStandard, 0x05, extHeaderStandard)
	frame.SetMessageRetrans(e.buf[:], pi, retryUnpair, transfer)
	frame.SetUnpairDevice(e.buf[:], pi, targetMask)
	if err := e.transmit(); err != nil {
		return transfer, err
	}
	wait := time.Duration(deviceCount(transfer)) * waitRetryFactor * msgDelay
	e.merge(pi, wait)

	return transfer &^ targetMask, nil
}

// Response is a snapshot of the merged response frame for a standard
// read/write/ping transaction, ready for per-slot decoding.
type Response struct {
	buf []byte
	pi  int
}

// SlotCount returns how many consecutive data slots this response covers;
// it is zero for an empty (zero-value) Response.
func (r Response) SlotCount() int {
	if len(r.buf) <= r.pi+7 {
		return 0
	}
	return int(r.buf[r.pi+7]>>4) + 1
}

// Slot decodes the i-th slot's request/ack bits and data word, ready to
// feed into cache.Device.ApplyRegister.
func (r Response) Slot(i int) (req, ack bool, data uint16) {
	target := uint16(r.buf[r.pi+5]) | uint16(r.buf[r.pi+6])<<8
	ackMask := frame.GetRetransAck(r.buf, r.pi)
	bit := uint16(1) << uint(i)
	return target&bit != 0, ackMask&bit != 0, frame.DataWord(r.buf, r.pi, i)
}

func (e *Engine) snapshot(pi int) Response {
	pktLen := int(e.buf[frame.IdxPktLen])
	buf := make([]byte, pktLen)
	copy(buf, e.buf[:pktLen])
	return Response{buf: buf, pi: pi}
}

// Read runs the register-read transaction (§4.4) against targetMask,
// reachable over transfer (the network's full occupied population, per
// §3/§4.4: "devices" in the wait calculation and the wire's transfer_mask
// field always mean the transfer mask, never the narrower target), and
// returns the merged response for per-slot decoding.
func (e *Engine) Read(network byte, transfer, targetMask uint16, regHigh, regLow byte) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pi := e.prepare(network, frame.MsgStandard, 0x05, extHeaderStandard)
	frame.SetMessageRetrans(e.buf[:], pi, retryRead, transfer)
	frame.SetRegisterRead(e.buf[:], pi, targetMask, regHigh, regLow)
	if err := e.transmit(); err != nil {
		return Response{}, err
	}
	wait := time.Duration(deviceCount(transfer)) * waitRetryFactor * msgDelay
	e.merge(pi, wait)

	return e.snapshot(pi), nil
}

// Write runs the register-write transaction (§4.4), writing a distinct
// value per targeted slot (bits clear in targetMask write zero, per
// x3d_set_register_write), reachable over transfer.
func (e *Engine) Write(network byte, transfer, targetMask uint16, regHigh, regLow byte, values []uint16) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pi := e.prepare(network, frame.MsgStandard, 0x05, extHeaderStandard)
	frame.SetMessageRetrans(e.buf[:], pi, retryWrite, transfer)
	frame.SetRegisterWrite(e.buf[:], pi, targetMask, regHigh, regLow, values)
	if err := e.transmit(); err != nil {
		return Response{}, err
	}
	wait := time.Duration(deviceCount(transfer)) * waitRetryFactor * msgDelay
	e.merge(pi, wait)

	return e.snapshot(pi), nil
}

// TempBroadcast runs the outdoor-temperature broadcast (§4.4, §6): a
// no-op-action standard message carrying the temperature in its extended
// header, sent with the lowest retry count of any transaction kind
// (retryTemp+1 transmissions per call), reachable over transfer and targeted at targetMask
// (the feature-carrying subset).
func (e *Engine) TempBroadcast(network byte, transfer, targetMask uint16, outdoorSlot byte, temp uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ext := []byte{0x98, 0x08, outdoorSlot, byte(temp), byte(temp >> 8)}
	pi := e.prepare(network, frame.MsgStandard, 0x05, ext)
	frame.SetMessageRetrans(e.buf[:], pi, retryTemp, transfer)
	frame.SetPingDevice(e.buf[:], pi, targetMask)
	if err := e.transmit(); err != nil {
		return err
	}
	wait := time.Duration(deviceCount(transfer)) * waitRetryFactor * msgDelay
	e.merge(pi, wait)
	return nil
}
