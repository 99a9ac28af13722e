// Copyright 2024 by Sven Fabricius, see LICENSE file

package sx1231

const (
	regFIFO        = 0x00
	regOpMode      = 0x01
	regDataModul   = 0x02
	regBitrateMSB  = 0x03
	regFdevMSB     = 0x05
	regFrfMSB      = 0x07
	regAfcCtrl     = 0x0B
	regVersion     = 0x10
	regPaLevel     = 0x11
	regOcp         = 0x13
	regRxBw        = 0x19
	regAfcBw       = 0x1A
	regAfcFei      = 0x1E
	regAfcMSB      = 0x1F
	regRssiConfig  = 0x23
	regRssiValue   = 0x24
	regDioMapping1 = 0x25
	regIrqFlags1   = 0x27
	regIrqFlags2   = 0x28
	regRssiThresh  = 0x29
	regSyncConfig  = 0x2E
	regSyncValue1  = 0x2F
	regPreambleMSB = 0x2C
	regFifoThresh  = 0x3C
	regPacketCfg2  = 0x3D
	regTestPA1     = 0x5A
	regTestPA2     = 0x5C
	regTestAfc     = 0x71

	modeSleep   = 0 << 2
	modeStandby = 1 << 2
	modeFS      = 2 << 2
	modeTx      = 3 << 2
	modeRx      = 4 << 2

	irq1ModeReady  = 1 << 7
	irq1RxReady    = 1 << 6
	irq1Rssi       = 1 << 3
	irq1Timeout    = 1 << 2
	irq1SyncMatch  = 1 << 0
	irq2FifoNotEmp = 1 << 6
	irq2PacketSent = 1 << 3
	irq2PayloadRdy = 1 << 2

	// dioMapBase sets the DIOMAPPING1 low bits to disable CLK_OUT, as the
	// teacher does unconditionally since nothing here drives off the
	// radio's clock output.
	dioMapBase = 0x31

	// DIO0 2-bit role codes occupying bits 7-6 of DIOMAPPING1; this is the
	// only one of the six DIO pins actually wired to an interrupt-capable
	// GPIO (§4.3's DIO mapping table collapses to one active entry here).
	dio0RoleRSSI    = 0xC0
	dio0RolePayload = 0x40
	dio0RoleTxDone  = 0x00
)

// x3dFreqHz, x3dBitrate and x3dFdevHz are the air-interface constants
// (§4.3): 868.95MHz center frequency, 40kbit/s, 80kHz frequency deviation.
const (
	x3dFreqHz   = 868950000
	x3dBitrate  = 40000
	x3dFdevHz   = 80000
	x3dPreamble = 4
)

// x3dSync is the 4-byte sync word the mesh uses on air.
var x3dSync = []byte{0x81, 0x69, 0x96, 0x7E}

// configRegs initializes registers that do not depend on the bitrate,
// frequency or sync word (those are programmed separately below). Pairs of
// <address, data>, written once at Standby right after the sync probe.
var configRegs = []byte{
	0x01, 0x00, // OpMode = sleep
	0x11, 0x9F, // PaLevel, Pa0 on, max output
	0x12, 0x09, // PaRamp, 40us
	0x13, 0x0F, // Ocp, off, trim=15 (§4.3 init)
	0x1E, 0x0C, // AfcFei: AfcAutoclearOn | AfcAutoOn
	0x25, dioMapBase, // DioMapping1, no active role yet
	0x29, 0xA8, // RssiThresh
	0x2A, 0x00, // no RxStart timeout
	0x2B, 0x40, // RssiTimeout after 2*64 bytes
	0x2C, 0x00, // PreambleMsb = 0
	0x2D, x3dPreamble, // PreambleLsb, 4 bytes (§4.3)
	0x37, 0xC0, // PacketConfig1: variable length, whitening, CRC off (application-level CRC only)
	0x38, 0x40, // PayloadLength, 64 bytes max (§4.3)
	0x3C, 0x8F, // FifoThresh, not-empty, level 15
	0x3D, 0x12, // PacketConfig2, inter-pkt delay=1, auto-rx-restart on
	0x6F, 0x30, // TestDagc, continuous DAGC improved for AFC low-beta off
}
