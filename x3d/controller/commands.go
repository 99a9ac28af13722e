// Copyright 2024 by Sven Fabricius, see LICENSE file

package controller

import (
	"github.com/mr-sven/x3d-rfm-esp32/x3d/cache"
)

// regBytes splits a 16-bit register address into the reg_high/reg_low byte
// pair the frame codec and engine take (e.g. 0x1631 -> 0x16, 0x31).
func regBytes(reg uint16) (byte, byte) {
	return byte(reg >> 8), byte(reg)
}

// featureMask returns the subset of net's occupied slots whose
// device type carries feature (§6, §13's "only to feature-carrying slots").
func featureMask(net *cache.Network, feature cache.Feature) uint16 {
	var mask uint16
	for i := 0; i < cache.SlotCount; i++ {
		if cache.Features(net.Slots[i].Type)&feature != 0 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Reset implements "reset — reboot" (§6). The reboot mechanism itself is
// platform-specific bring-up, a Non-goal; the controller only invokes the
// collaborator hook.
func (c *Controller) Reset() {
	c.log("controller: reset requested")
	c.reboot()
}

// OutdoorTemp implements "outdoor_temp(value_celsius) — broadcast to both
// networks (only to feature-carrying slots)" (§6). Each network's broadcast
// runs as its own temp transaction, since the radio serialises one
// transaction at a time regardless of network (§5).
func (c *Controller) OutdoorTemp(valueCelsius float64) error {
	temp := uint16(int16(valueCelsius * 100))
	for idx, tag := range [...]NetworkTag{NetworkA, NetworkB} {
		if err := c.outdoorTempOne(tag, byte(idx), temp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) outdoorTempOne(tag NetworkTag, idx byte, temp uint16) error {
	target := featureMask(&c.cache.Networks[idx], cache.FeatureOutdoorTemp)
	if target == 0 {
		return nil
	}
	if err := c.begin(tag, KindTemp); err != nil {
		return err
	}
	defer c.end(tag)
	transfer := c.cache.OccupiedMask(idx)
	return c.eng.TempBroadcast(idx, transfer, target, 0, temp)
}

// statusRegisters lists the registers a device_status read covers; short
// drops the last three (§6).
var statusRegisters = []uint16{
	cache.RegRoomTemp,
	cache.RegSetpointStatus,
	cache.RegErrorStatus,
	cache.RegOnOff,
	cache.RegSetpointDefrost,
	cache.RegSetpointNightDay,
	cache.RegAttPower,
}

const statusShortCount = 4

// DeviceStatus implements "device_status(network) — perform a read
// transaction for ROOM_TEMP, SETPOINT_STATUS, ERROR_STATUS, ON_OFF,
// SETPOINT_DEFROST, SETPOINT_NIGHT_DAY, ATT_POWER; update cache; publish
// views" (§6).
func (c *Controller) DeviceStatus(tag NetworkTag) error {
	return c.deviceStatus(tag, statusRegisters)
}

// DeviceStatusShort implements "device_status_short(network) — same minus
// the last three registers" (§6).
func (c *Controller) DeviceStatusShort(tag NetworkTag) error {
	return c.deviceStatus(tag, statusRegisters[:statusShortCount])
}

func (c *Controller) deviceStatus(tag NetworkTag, regs []uint16) error {
	idx, err := networkIndex(tag)
	if err != nil {
		return err
	}
	if err := c.begin(tag, KindStatus); err != nil {
		return err
	}
	defer c.end(tag)

	targetMask := c.cache.OccupiedMask(idx)
	if targetMask == 0 {
		return nil
	}
	for _, reg := range regs {
		high, low := regBytes(reg)
		resp, err := c.eng.Read(idx, targetMask, targetMask, high, low)
		if err != nil {
			return err
		}
		for i := 0; i < resp.SlotCount(); i++ {
			req, ack, data := resp.Slot(i)
			dev, err := c.cache.Slot(idx, i)
			if err != nil {
				continue
			}
			dev.ApplyRegister(req, ack, reg, data)
		}
	}
	for i := 0; i < cache.SlotCount; i++ {
		if targetMask&(1<<uint(i)) == 0 {
			continue
		}
		dev, err := c.cache.Slot(idx, i)
		if err != nil {
			continue
		}
		c.pub.PublishView(tag, i, dev.ToView())
	}
	return nil
}

// Pair implements "pair(network, type_name) — network-level pairing" (§6).
func (c *Controller) Pair(tag NetworkTag, typeName string) error {
	idx, err := networkIndex(tag)
	if err != nil {
		return err
	}
	if err := c.begin(tag, KindPairing); err != nil {
		return err
	}
	defer c.end(tag)

	occupied := c.cache.OccupiedMask(idx)
	result, err := c.eng.Pair(idx, occupied)
	if err != nil {
		return err
	}
	if !result.Paired {
		c.log("controller: pairing failed on network %d", tag)
		return nil
	}
	t := cache.TypeFromString(typeName)
	if err := c.cache.Pair(idx, result.Slot, t); err != nil {
		return err
	}
	c.savePersisted(idx)
	dev, err := c.cache.Slot(idx, result.Slot)
	if err == nil {
		c.pub.PublishView(tag, result.Slot, dev.ToView())
	}
	return nil
}

// PairSlot implements "pair(network, slot_set) — start-pair on an already
// paired slot (writes register 0x1401)" (§6, §13).
func (c *Controller) PairSlot(tag NetworkTag, slots uint16) error {
	idx, err := networkIndex(tag)
	if err != nil {
		return err
	}
	if err := c.begin(tag, KindPairing); err != nil {
		return err
	}
	defer c.end(tag)

	transfer := c.cache.OccupiedMask(idx)
	high, low := regBytes(cache.RegStartPair)
	_, err = c.eng.Write(idx, transfer, slots, high, low, constWords(slots, 1))
	return err
}

// Unpair implements "unpair(network, slot_set) — per slot" (§6).
func (c *Controller) Unpair(tag NetworkTag, slots uint16) error {
	idx, err := networkIndex(tag)
	if err != nil {
		return err
	}
	if err := c.begin(tag, KindUnpairing); err != nil {
		return err
	}
	defer c.end(tag)

	transfer := c.cache.OccupiedMask(idx)
	for i := 0; i < cache.SlotCount; i++ {
		bit := uint16(1) << uint(i)
		if slots&bit == 0 {
			continue
		}
		var err error
		transfer, err = c.eng.Unpair(idx, i, transfer)
		if err != nil {
			return err
		}
		if err := c.cache.Unpair(idx, i); err != nil {
			return err
		}
	}
	c.savePersisted(idx)
	return nil
}

// Read implements "read(network, slot_set, reg_high, reg_low) — ad-hoc"
// (§6), publishing the ack mask/register/values result.
func (c *Controller) Read(tag NetworkTag, slots uint16, regHigh, regLow byte) error {
	idx, err := networkIndex(tag)
	if err != nil {
		return err
	}
	if err := c.begin(tag, KindReading); err != nil {
		return err
	}
	defer c.end(tag)

	transfer := c.cache.OccupiedMask(idx)
	resp, err := c.eng.Read(idx, transfer, slots, regHigh, regLow)
	if err != nil {
		return err
	}
	values := make([]uint16, resp.SlotCount())
	var ack uint16
	for i := range values {
		req, acked, data := resp.Slot(i)
		if acked {
			ack |= 1 << uint(i)
		}
		if req {
			values[i] = data
		}
	}
	c.pub.PublishResult(tag, ack, regHigh, regLow, values)
	return nil
}

// Write implements "write(network, slot_set, reg_high, reg_low, values) —
// ad-hoc" (§6).
func (c *Controller) Write(tag NetworkTag, slots uint16, regHigh, regLow byte, values []uint16) error {
	idx, err := networkIndex(tag)
	if err != nil {
		return err
	}
	if err := c.begin(tag, KindWriting); err != nil {
		return err
	}
	defer c.end(tag)

	transfer := c.cache.OccupiedMask(idx)
	resp, err := c.eng.Write(idx, transfer, slots, regHigh, regLow, values)
	if err != nil {
		return err
	}
	ack := frameAckMask(resp)
	c.pub.PublishResult(tag, ack, regHigh, regLow, values)
	return nil
}

// frameAckMask extracts the ack mask from a merged response, bounded by the
// response's own slot count so it never reads past the slots the request
// actually covered.
func frameAckMask(resp interface {
	Slot(int) (bool, bool, uint16)
	SlotCount() int
}) uint16 {
	var mask uint16
	for i := 0; i < resp.SlotCount(); i++ {
		_, ack, _ := resp.Slot(i)
		if ack {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

