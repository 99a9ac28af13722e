// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package engine implements the X3D transaction engine (§4.4): the five
// message kinds (pair, unpair, read, write, temperature broadcast), each
// built as a send-with-retry followed by a response-merge window. The
// engine owns the single shared transmit buffer and message-id/message-no
// counters for one device id; every transaction holds the engine's lock
// for its whole run, so only one is in flight at a time, matching the
// single-slot dispatcher of §4.6.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/mr-sven/x3d-rfm-esp32/x3d/frame"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/msgid"
)

// LogPrintf matches the teacher's logging hook shape
// (sx1231.LogPrintf): a nil value means no logging.
type LogPrintf func(format string, v ...interface{})

// msgDelay is the pacing interval between (re)transmissions, X3D_MSG_DELAY_MS.
const msgDelay = 20 * time.Millisecond

// Retry counts per transaction kind (§4.4).
const (
	retryPairing = 4
	retryUnpair  = 4
	retryRead    = 2
	retryWrite   = 4
	retryTemp    = 1

	// waitRetryFactor is the per-device wait multiplier (X3D_DEFAULT_MSG_RETRY)
	// used to size the response-merge window for unpair/read/write/temp, even
	// though read and temp transmit with a lower retry count than this.
	waitRetryFactor = 4
)

// extHeaderStandard is the fixed extended-header prefix shared by every standard
// and pairing message.
var extHeaderStandard = []byte{0x98, 0x00}

// Radio is the minimal transport the engine needs; radio/sx1231 satisfies
// it. Send hands one on-air frame to the transport; it may return before
// the frame has gone out (radio/sx1231 queues it for its worker goroutine
// and returns without waiting for PacketSent). Receive yields raw frames as they arrive, each laid out exactly like a
// transmitted frame (pkt_len-prefixed, CRC-trailed) so x3d/frame's offsets
// apply to both without translation.
type Radio interface {
	Send(frame []byte) error
	Receive() <-chan []byte
}

// Engine runs X3D transactions for one local device id over a Radio.
type Engine struct {
	radio    Radio
	deviceID uint32
	log      LogPrintf

	mu      sync.Mutex // serializes transactions; only one may run at a time
	msgNo   byte
	counter msgid.Counter
	buf     [frame.MaxFrameSize]byte

	// pairOpenWait is the wait after the pairing open round (5s in
	// x3d_handler.c); overridable so tests need not run at wall-clock speed.
	pairOpenWait time.Duration
}

// New returns an Engine transmitting as deviceID over radio. msgNo starts
// at 1, matching x3d_handler.c's x3d_msg_no initializer.
func New(radio Radio, deviceID uint32, log LogPrintf) *Engine {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Engine{radio: radio, deviceID: deviceID, msgNo: 1, log: log, pairOpenWait: 5000 * time.Millisecond}
}

// prepare initializes the shared buffer with a fresh header for network
// and returns the payload start offset. network's top bit is set, marking
// the frame as controller-originated (x3d_prepare_message's "0x80 | network").
func (e *Engine) prepare(network byte, msgType frame.MsgType, status byte, ext []byte) int {
	frame.InitFrame(e.buf[:], e.deviceID, 0x80|network)
	id := e.counter.Next(e.deviceID)
	return frame.PrepareHeader(e.buf[:], &e.msgNo, msgType, 0, status, ext, id)
}

// transmit sends the prepared frame, re-signing its CRC and waiting
// msgDelay between each attempt, decrementing the retry field after each
// send; the frame carrying retry zero is the last one sent. It returns
// only a send error.
func (e *Engine) transmit() error {
	next := time.Now()
	for {
		frame.SetCRC(e.buf[:])
		now := time.Now()
		if d := next.Sub(now); d > 0 {
			time.Sleep(d)
		}
		next = next.Add(msgDelay)

		pktLen := int(e.buf[frame.IdxPktLen])
		if err := e.radio.Send(append([]byte(nil), e.buf[:pktLen]...)); err != nil {
			return fmt.Errorf("engine: send: %w", err)
		}
		if frame.DecRetry(e.buf[:]) == 0 {
			return nil
		}
	}
}

// merge drains the radio's receive channel for wait, folding every frame
// whose header matches the outstanding request into e.buf per the
// strictly-increasing-retry OR-merge rule (§4.4).
func (e *Engine) merge(checkLen int, wait time.Duration) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		select {
		case in, ok := <-e.radio.Receive():
			if !ok {
				return
			}
			e.applyResponse(checkLen, in)
		case <-deadline.C:
			return
		}
	}
}

// applyResponse implements x3d_processor: the incoming frame is folded in
// only if its header (everything up to the retry byte) matches byte for
// byte and its retry byte is strictly greater than what is already held.
func (e *Engine) applyResponse(checkLen int, in []byte) {
	if len(in) <= checkLen {
		return
	}
	if string(in[:checkLen]) != string(e.buf[:checkLen]) {
		return
	}
	if e.buf[checkLen] >= in[checkLen] {
		return
	}
	e.buf[checkLen] = in[checkLen]
	pktLen := int(e.buf[frame.IdxPktLen])
	end := pktLen
	if len(in) < end {
		end = len(in)
	}
	for i := checkLen + 1; i < end; i++ {
		e.buf[i] |= in[i]
	}
}

func deviceCount(mask uint16) int {
	n := 0
	for mask != 0 {
		n += int(mask & 1)
		mask >>= 1
	}
	return n
}

// lowestZeroBit returns the index of the lowest unset bit in a 16-bit mask.
func lowestZeroBit(mask uint16) int {
	for i := 0; i < 16; i++ {
		if mask&(1<<uint(i)) == 0 {
			return i
		}
	}
	return -1
}
