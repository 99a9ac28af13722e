// Copyright 2024 by Sven Fabricius, see LICENSE file

package controller

import "github.com/mr-sven/x3d-rfm-esp32/x3d/cache"

// HeatMode selects one of the fixed heating modes enable composes writes
// for (§6, §13): day/night reuse the slot's own configured setpoint,
// defrost requests the defrost flag, custom pins an explicit temperature,
// and timed additionally bounds it to a duration.
type HeatMode int

const (
	ModeDay HeatMode = iota
	ModeNight
	ModeDefrost
	ModeCustom
	ModeTimed
)

// setModeDefrostFlag and setModeTimedFlag mirror the flag bits ApplyRegister decodes out of
// SETPOINT_STATUS's high byte (§4.5): writing the same bit back into
// SET_MODE_TEMP's high byte is how the mesh requests that mode.
const setModeDefrostFlag = 0x0200
const setModeTimedFlag = 0x0800

// Enable implements "enable(network, slot_set, mode{day|night|defrost|
// custom T|timed T d})" (§6, §13): writes to SET_MODE_TEMP (0x1631),
// MODE_TIME (0x1661) when timed, and ON_OFF (0x1641).
func (c *Controller) Enable(tag NetworkTag, slots uint16, mode HeatMode, customTemp byte, duration byte) error {
	idx, err := networkIndex(tag)
	if err != nil {
		return err
	}
	if err := c.begin(tag, KindWriting); err != nil {
		return err
	}
	defer c.end(tag)

	transfer := c.cache.OccupiedMask(idx)
	setpoint, err := c.setModeWord(idx, slots, mode, customTemp)
	if err != nil {
		return err
	}
	high, low := regBytes(cache.RegSetModeTemp)
	if _, err := c.eng.Write(idx, transfer, slots, high, low, constWords(slots, setpoint)); err != nil {
		return err
	}

	if mode == ModeTimed {
		high, low = regBytes(cache.RegModeTime)
		if _, err := c.eng.Write(idx, transfer, slots, high, low, constWords(slots, uint16(duration))); err != nil {
			return err
		}
	}

	high, low = regBytes(cache.RegOnOff)
	_, err = c.eng.Write(idx, transfer, slots, high, low, constWords(slots, 1))
	return err
}

// Disable implements "disable(network, slot_set)" (§6): ON_OFF = 0.
func (c *Controller) Disable(tag NetworkTag, slots uint16) error {
	idx, err := networkIndex(tag)
	if err != nil {
		return err
	}
	if err := c.begin(tag, KindWriting); err != nil {
		return err
	}
	defer c.end(tag)

	transfer := c.cache.OccupiedMask(idx)
	high, low := regBytes(cache.RegOnOff)
	_, err = c.eng.Write(idx, transfer, slots, high, low, constWords(slots, 0))
	return err
}

// setModeWord computes the SET_MODE_TEMP word for mode, reading the
// slot's own cached day/night setpoint when mode is ModeDay/ModeNight so
// day/night selection reuses "a fixed setpoint register value" (§13)
// already configured on the device rather than inventing a new one. Mixed
// targeted slots with differing day/night setpoints all receive the
// lowest targeted slot's value: setModeWord yields a single word, which
// constWords then copies into every targeted slot's data word.
func (c *Controller) setModeWord(idx byte, slots uint16, mode HeatMode, customTemp byte) (uint16, error) {
	switch mode {
	case ModeDefrost:
		return setModeDefrostFlag, nil
	case ModeCustom, ModeTimed:
		word := uint16(customTemp)
		if mode == ModeTimed {
			word |= setModeTimedFlag
		}
		return word, nil
	default:
		slot := lowestSetBit(slots)
		if slot < 0 {
			return 0, nil
		}
		dev, err := c.cache.Slot(idx, slot)
		if err != nil {
			return 0, err
		}
		if mode == ModeNight {
			return uint16(dev.SetPointNight), nil
		}
		return uint16(dev.SetPointDay), nil
	}
}

func lowestSetBit(mask uint16) int {
	for i := 0; i < cache.SlotCount; i++ {
		if mask&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// constWords returns a values slice sized to the highest targeted slot,
// with targeted entries set to v and the others zero, for
// SetRegisterWrite's per-slot contract.
func constWords(mask uint16, v uint16) []uint16 {
	n := 0
	for i := cache.SlotCount - 1; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			n = i + 1
			break
		}
	}
	values := make([]uint16, n)
	for i := range values {
		if mask&(1<<uint(i)) != 0 {
			values[i] = v
		}
	}
	return values
}
