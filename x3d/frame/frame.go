// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package frame implements the X3D mesh on-wire frame layout: a pure,
// stateless codec with no I/O of its own. It builds and inspects the
// length/header/extended-header/payload/CRC byte layout described in the
// X3D protocol and is shared by every message kind (pairing, standard
// register read/write, ping, beacon).
//
// A frame lives in a caller-owned byte slice of at least MaxFrameSize bytes.
// Every function here takes that slice and an index into it; none of them
// allocate or retain the slice.
package frame

import "encoding/binary"

// MaxFrameSize is the largest frame the SX1231 FIFO can hold, including the
// 1-byte length prefix.
const MaxFrameSize = 64

// Byte offsets within the frame, from the start of the buffer.
const (
	IdxPktLen    = 0
	IdxPktAddr   = 1
	IdxMsgNo     = 2
	IdxMsgType   = 3
	IdxHeaderLen = 4
	IdxDeviceID  = 5
	IdxNetwork   = 8
)

// Offsets relative to IdxNetwork.
const (
	offHeaderStatus = 1
	offHeaderExt    = 2
)

// Offsets relative to the start of the payload (the standard message layout).
const (
	offRetransSlot    = 1
	offRetransAckSlot = 3
	offRegisterTarget = 5
	offRegisterAction = 7
	offRegisterHigh   = 8
	offRegisterLow    = 9
	offRegisterAck    = 10

	offPairUnknown      = 5
	offPairTargetSlotNo = 7
	offPairPin          = 9
	offPairState        = 11

	offBeaconUnknown   = 5
	offBeaconTargetNo  = 6
	offBeaconUnknown2  = 8
)

// Header length mask/flags (IdxHeaderLen byte).
const (
	HeaderLengthMask = 0x1f
	HeaderFlagsMask  = 0xe0
	FlagNoResponse   = 0x20
)

// headerCksumDropLen is the number of trailing header bytes (the length byte
// itself is outside the header, so this counts header-length-field bytes)
// excluded from the header checksum: the 2 checksum bytes plus the 1-byte
// header-length field that is not itself summed.
const headerCksumDropLen = 3

// minHeaderSize is the fixed part of the header: 1 header-length byte is
// already accounted for by IdxHeaderLen; what follows is device id (3),
// network (1), status (1), checksum (2) = 8 total counted from IdxHeaderLen.
const minHeaderSize = 8

// MsgType identifies the kind of X3D message.
type MsgType byte

const (
	MsgSensor   MsgType = 0
	MsgStandard MsgType = 1
	MsgPairing  MsgType = 2
	MsgBeacon   MsgType = 3
)

// Action identifies the register operation encoded in a standard payload's
// action byte (low nibble).
type Action byte

const (
	ActionReset Action = 0x0
	ActionRead  Action = 0x1
	ActionNone  Action = 0x8
	ActionWrite Action = 0x9
)

// PairState is the pairing payload's state byte.
type PairState byte

const (
	PairOpen   PairState = 0xE0
	PairPinned PairState = 0xE5
)

// InitFrame writes the constant parts of a frame and the device id, leaving
// lengths at zero. Call once per reused buffer; PrepareHeader may be called
// repeatedly afterwards without calling InitFrame again.
func InitFrame(buf []byte, deviceID uint32, network byte) {
	buf[IdxPktLen] = 0
	buf[IdxPktAddr] = 0xff
	buf[IdxMsgNo] = 0
	buf[IdxMsgType] = 0
	buf[IdxHeaderLen] = 0
	buf[IdxDeviceID] = byte(deviceID)
	buf[IdxDeviceID+1] = byte(deviceID >> 8)
	buf[IdxDeviceID+2] = byte(deviceID >> 16)
	buf[IdxNetwork] = network
}

// PrepareHeader writes msg_no (from *msgNo, which is then incremented),
// msg_type, status, the extended header bytes, and optionally the encoded
// msg_id (when non-zero). It computes hdr_check and pkt_len and returns the
// byte offset at which the payload begins.
func PrepareHeader(buf []byte, msgNo *byte, msgType MsgType, flags byte, status byte, extHeader []byte, msgID uint16) int {
	buf[IdxMsgNo] = *msgNo
	*msgNo++
	buf[IdxMsgType] = byte(msgType)
	buf[IdxNetwork+offHeaderStatus] = status

	copy(buf[IdxNetwork+offHeaderExt:], extHeader)

	cksumIdx := IdxNetwork + offHeaderExt + len(extHeader)
	headerLength := byte((len(extHeader) + minHeaderSize) & HeaderLengthMask)
	if msgID != 0 {
		binary.LittleEndian.PutUint16(buf[cksumIdx:], msgID)
		cksumIdx += 2
		headerLength += 2
	}
	buf[IdxHeaderLen] = (flags & HeaderFlagsMask) | headerLength

	cksum := HeaderCheck(buf, headerLength)
	binary.BigEndian.PutUint16(buf[cksumIdx:], uint16(cksum))
	payloadIndex := cksumIdx + 2
	buf[IdxPktLen] = byte(payloadIndex + 2)
	return payloadIndex
}

// HeaderCheck computes the two's-complement negated sum of bytes from
// device_id through the last header byte before the checksum field,
// truncated to an int16.
func HeaderCheck(buf []byte, headerLength byte) int16 {
	var sum int16
	n := int(headerLength) - headerCksumDropLen
	for i := 0; i < n; i++ {
		sum -= int16(buf[IdxDeviceID+i])
	}
	return sum
}

// SetMessageRetrans writes the retry count (low nibble), the transfer mask,
// and zeroes the ack mask.
func SetMessageRetrans(buf []byte, payloadIndex int, retry byte, transferMask uint16) {
	buf[payloadIndex] = retry & 0x0f
	binary.LittleEndian.PutUint16(buf[payloadIndex+offRetransSlot:], transferMask)
	binary.LittleEndian.PutUint16(buf[payloadIndex+offRetransAckSlot:], 0)
}

// highestSetBit returns the index of the highest set bit, or -1 if v is zero.
func highestSetBit(v uint16) int {
	b := -1
	for v != 0 {
		v >>= 1
		b++
	}
	return b
}

func setRegisterAndAction(buf []byte, payloadIndex int, targetMask uint16, action byte, regHigh, regLow byte) int {
	binary.LittleEndian.PutUint16(buf[payloadIndex+offRegisterTarget:], targetMask)
	buf[payloadIndex+offRegisterAction] = action
	buf[payloadIndex+offRegisterHigh] = regHigh
	buf[payloadIndex+offRegisterLow] = regLow
	binary.LittleEndian.PutUint16(buf[payloadIndex+offRegisterAck:], 0)
	return payloadIndex + offRegisterAck + 2
}

// SetRegisterRead writes a standard read payload targeting targetMask,
// sized for the highest slot in the mask, and zeroes the data words.
func SetRegisterRead(buf []byte, payloadIndex int, targetMask uint16, regHigh, regLow byte) {
	slots := highestSetBit(targetMask)
	action := byte((slots<<4)&0xf0) | byte(ActionRead)
	dataIdx := setRegisterAndAction(buf, payloadIndex, targetMask, action, regHigh, regLow)
	for i := 0; i <= slots; i++ {
		binary.LittleEndian.PutUint16(buf[dataIdx:], 0)
		dataIdx += 2
	}
	buf[IdxPktLen] = byte(dataIdx + 2)
}

// SetRegisterWriteSame writes a standard write payload where every targeted
// slot receives the same value; bits clear in targetMask get a zero word.
func SetRegisterWriteSame(buf []byte, payloadIndex int, targetMask uint16, regHigh, regLow byte, value uint16) {
	slots := highestSetBit(targetMask)
	action := byte((slots<<4)&0xf0) | byte(ActionWrite)
	dataIdx := setRegisterAndAction(buf, payloadIndex, targetMask, action, regHigh, regLow)
	for i := 0; i <= slots; i++ {
		v := uint16(0)
		if targetMask&(1<<uint(i)) != 0 {
			v = value
		}
		binary.LittleEndian.PutUint16(buf[dataIdx:], v)
		dataIdx += 2
	}
	buf[IdxPktLen] = byte(dataIdx + 2)
}

// SetRegisterWrite writes a standard write payload with a distinct value per
// slot; bits clear in targetMask get a zero word regardless of values[i].
func SetRegisterWrite(buf []byte, payloadIndex int, targetMask uint16, regHigh, regLow byte, values []uint16) {
	slots := highestSetBit(targetMask)
	action := byte((slots<<4)&0xf0) | byte(ActionWrite)
	dataIdx := setRegisterAndAction(buf, payloadIndex, targetMask, action, regHigh, regLow)
	for i := 0; i <= slots; i++ {
		v := uint16(0)
		if targetMask&(1<<uint(i)) != 0 && i < len(values) {
			v = values[i]
		}
		binary.LittleEndian.PutUint16(buf[dataIdx:], v)
		dataIdx += 2
	}
	buf[IdxPktLen] = byte(dataIdx + 2)
}

// SetUnpairDevice writes a reset-action payload targeting a single slot mask.
func SetUnpairDevice(buf []byte, payloadIndex int, targetMask uint16) {
	dataIdx := setRegisterAndAction(buf, payloadIndex, targetMask, byte(ActionReset), 0xe0, 0x00)
	buf[IdxPktLen] = byte(dataIdx + 2)
}

// SetPingDevice writes a no-op action payload (used for ping and temperature
// broadcast) targeting targetMask.
func SetPingDevice(buf []byte, payloadIndex int, targetMask uint16) {
	dataIdx := setRegisterAndAction(buf, payloadIndex, targetMask, byte(ActionNone), 0x00, 0x00)
	buf[IdxPktLen] = byte(dataIdx + 2)
}

// SetPairingData writes a pairing payload. The protocol quirk (§4.1) ORs
// 0x10 into an odd target slot whenever hasPrior (at least one slot already
// populated) is true.
func SetPairingData(buf []byte, payloadIndex int, targetSlot byte, hasPrior bool, pin uint16, state PairState) {
	// Wire bytes are 0x1f, 0xff (payload+5, payload+6); as a little-endian
	// uint16 that is 0xff1f.
	binary.LittleEndian.PutUint16(buf[payloadIndex+offPairUnknown:], 0xff1f)

	slot := targetSlot
	if hasPrior && slot&0x01 != 0 {
		slot |= 0x10
	}
	binary.LittleEndian.PutUint16(buf[payloadIndex+offPairTargetSlotNo:], uint16(slot))
	binary.LittleEndian.PutUint16(buf[payloadIndex+offPairPin:], pin)
	binary.LittleEndian.PutUint16(buf[payloadIndex+offPairState:], uint16(state))
	buf[IdxPktLen] = byte(payloadIndex + offPairState + 2 + 2)
}

// SetBeaconData writes a beacon payload.
func SetBeaconData(buf []byte, payloadIndex int, targetSlot uint16) {
	buf[payloadIndex+offBeaconUnknown] = 0xff
	binary.LittleEndian.PutUint16(buf[payloadIndex+offBeaconTargetNo:], targetSlot)
	binary.LittleEndian.PutUint16(buf[payloadIndex+offBeaconUnknown2:], 0xffe0)
	buf[IdxPktLen] = byte(payloadIndex + offBeaconUnknown2 + 2 + 2)
}

// DecRetry reads the retry byte (the first payload byte) and decrements it,
// saturating at zero. It returns the value prior to decrementing.
func DecRetry(buf []byte) byte {
	retryIdx := int(buf[IdxHeaderLen]&HeaderLengthMask) + IdxHeaderLen
	cur := buf[retryIdx]
	if cur > 0 {
		buf[retryIdx] = cur - 1
	}
	return cur
}

// PayloadIndex returns the byte offset at which the payload begins, derived
// from the header-length field already written into buf.
func PayloadIndex(buf []byte) int {
	return int(buf[IdxHeaderLen]&HeaderLengthMask) + IdxHeaderLen
}

// GetPairingPin reads the pairing PIN field.
func GetPairingPin(buf []byte, payloadIndex int) uint16 {
	return binary.LittleEndian.Uint16(buf[payloadIndex+offPairPin:])
}

// GetRetransAck reads the ack mask field of a standard payload.
func GetRetransAck(buf []byte, payloadIndex int) uint16 {
	return binary.LittleEndian.Uint16(buf[payloadIndex+offRetransAckSlot:])
}

// DataOffset returns the byte offset of the first 16-bit data word in a
// standard read/write payload.
func DataOffset(payloadIndex int) int {
	return payloadIndex + offRegisterAck + 2
}

// DataWord reads the i-th 16-bit data word from a standard payload.
func DataWord(buf []byte, payloadIndex, i int) uint16 {
	off := DataOffset(payloadIndex) + 2*i
	return binary.LittleEndian.Uint16(buf[off:])
}
