// Copyright 2024 by Sven Fabricius, see LICENSE file

package sx1231

import "github.com/mr-sven/x3d-rfm-esp32/x3d/frame"

// extractFrame takes the raw bytes read back from the FIFO (length byte
// followed by up to MaxFrameSize data bytes), clamps the claimed length
// defensively against a runaway value (§4.3), and verifies the
// application-level CRC-16/XMODEM trailer. ok is false when the CRC check
// fails, the frame boundary case the radio discards silently (§7).
func extractFrame(raw []byte) (payload []byte, ok bool) {
	if len(raw) < 1 {
		return nil, false
	}
	l := int(raw[0])
	if l > frame.MaxFrameSize {
		l = frame.MaxFrameSize
	}
	if 1+l > len(raw) {
		l = len(raw) - 1
	}
	body := raw[1 : 1+l]
	if !frame.VerifyCRC(body) {
		return nil, false
	}
	return append([]byte(nil), body...), true
}

// Pure register-value arithmetic (§4.3's configuration surface formulas),
// factored out so it is testable without a simulated chip, the way the
// teacher keeps jeelabs.go's JLEncode/JLDecode free of *Radio.

// bitrateReg returns BITRATEMSB/LSB's 16-bit value for a bit rate in bps:
// round(32e6 / bitrate).
func bitrateReg(bitrate uint32) uint16 {
	return uint16((uint32(32000000) + bitrate/2) / bitrate)
}

// fStep is the frequency synthesizer's step size: 32MHz crystal / 2^19.
const fStep = 32000000.0 / 524288.0

// fdevReg returns FDEVMSB/LSB's 14-bit value for a deviation in Hz:
// round(fdevHz / Fstep).
func fdevReg(fdevHz uint32) uint16 {
	return uint16((float64(fdevHz) + fStep/2) / fStep)
}

// frfReg returns the 24-bit FRFMSB/MID/LSB carrier frequency value for a
// frequency in Hz: round(freqHz / Fstep), computed with integer math using
// multiples of 64 so the lower 6 bits are always zero (well within the
// crystal's accuracy).
func frfReg(freqHz uint32) uint32 {
	return uint32((uint64(freqHz) << 2) / (32000000 >> 11))
}

// syncConfigByte returns SyncConfig's value for sync on with a sync word
// of n bytes (1..8): SyncOn | (n-1)<<3.
func syncConfigByte(n int) byte {
	return byte(0x80 + ((n - 1) << 3))
}

// testAfcReg returns TestAfc's value: 10% of the frequency deviation,
// expressed in TestAfc's 488Hz register units (not fdevReg's Fstep units).
func testAfcReg(fdevHz uint32) byte {
	return byte(fdevHz / 10 / 488)
}
