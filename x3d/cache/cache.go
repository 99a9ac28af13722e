// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package cache implements the in-memory device cache (§4.5): two
// networks of up to SlotCount paired devices each, their decoded register
// state, and the on_air liveness bit that Device.ApplyRegister clears and
// sets as read responses are decoded.
package cache

import "fmt"

// SlotCount is the number of device slots per network.
const SlotCount = 16

// NetworkCount is the number of independently paired networks a gateway
// tracks.
const NetworkCount = 2

// Register addresses, per x3d-lib's x3d.h. Device.ApplyRegister decodes
// the status registers; RegStartPair, RegOutdoorTemp and RegSetModeTemp
// are only written.
const (
	RegAttPower         = 0x1151
	RegStartPair        = 0x1401
	RegRoomTemp         = 0x1511
	RegOutdoorTemp      = 0x1521
	RegSetpointStatus   = 0x1611
	RegErrorStatus      = 0x1621
	RegSetModeTemp      = 0x1631
	RegOnOff            = 0x1641
	RegModeTime         = 0x1661
	RegSetpointDefrost  = 0x1681
	RegSetpointNightDay = 0x1691
)

// Flag bit masks within the register data words above.
const (
	flagDefrost       = 0x0200
	flagTimed         = 0x0800
	flagHeaterOn      = 0x1000
	flagHeaterStopped = 0x2000

	flagWindowOpen   = 0x0002
	flagNoTempSensor = 0x0100
	flagBatteryLow   = 0x1000

	flagOnOffEnabled = 0x0001
)

// Type identifies the kind of device occupying a slot.
type Type byte

const (
	TypeNone   Type = 0
	TypeRF66xx Type = 1
)

// String renders the type the way x3d_device_type_to_string does, for
// JSON views; persistence blobs store the numeric tag instead.
func (t Type) String() string {
	switch t {
	case TypeRF66xx:
		return "rf66xx"
	default:
		return "none"
	}
}

// TypeFromString is the inverse of Type.String; an unrecognized name maps
// to TypeNone, matching x3d_device_type_from_string.
func TypeFromString(s string) Type {
	if s == "rf66xx" {
		return TypeRF66xx
	}
	return TypeNone
}

// Feature is a bitmask of capabilities a device type carries.
type Feature byte

const (
	FeatureOutdoorTemp Feature = 0x01
	FeatureTempActor   Feature = 0x02
)

// Features returns the feature bitmask for a device type, per x3d_device.h's
// x3d_device_feature_list.
func Features(t Type) Feature {
	switch t {
	case TypeRF66xx:
		return FeatureOutdoorTemp | FeatureTempActor
	default:
		return 0
	}
}

// Device holds the decoded register state of one RF66xx slot.
type Device struct {
	Type Type

	RoomTemp        int16
	Power           byte
	SetPoint        byte
	SetPointDay     byte
	SetPointNight   byte
	SetPointDefrost byte
	OnAir           bool
	Enabled         bool
	Defrost         bool
	Timed           bool
	HeaterOn        bool
	HeaterStopped   bool
	WindowOpen      bool
	NoTempSensor    bool
	BatteryLow      bool
}

// ApplyRegister updates the device's decoded state from one register
// response word (§4.4, §4.5). req is whether this slot was targeted by
// the request; ack is whether the slot's response bit was set. A targeted
// slot that never acks has its on_air flag cleared and nothing else
// touched, mirroring x3d_rf66xx_set_from_reg.
func (d *Device) ApplyRegister(req, ack bool, reg uint16, data uint16) {
	if !req {
		return
	}
	if !ack {
		d.OnAir = false
		return
	}
	d.OnAir = true
	switch reg {
	case RegAttPower:
		d.Power = byte(data)
	case RegRoomTemp:
		d.RoomTemp = int16(data)
	case RegSetpointStatus:
		d.SetPoint = byte(data)
		flags := data & 0xff00
		d.Defrost = flags&flagDefrost == flagDefrost
		d.Timed = flags&flagTimed == flagTimed
		d.HeaterOn = flags&flagHeaterOn == flagHeaterOn
		d.HeaterStopped = flags&flagHeaterStopped == flagHeaterStopped
	case RegErrorStatus:
		d.WindowOpen = data&flagWindowOpen == flagWindowOpen
		d.NoTempSensor = data&flagNoTempSensor == flagNoTempSensor
		d.BatteryLow = data&flagBatteryLow == flagBatteryLow
	case RegOnOff:
		d.Enabled = data&flagOnOffEnabled == flagOnOffEnabled
	case RegModeTime:
		// No decoded field; the register exists only to be written.
	case RegSetpointDefrost:
		d.SetPointDefrost = byte(data)
	case RegSetpointNightDay:
		d.SetPointNight = byte(data)
		d.SetPointDay = byte(data >> 8)
	}
}

// View is the externally published JSON shape of a device, grounded on
// x3d_rf66xx_to_json. Field order and scaling match the original.
type View struct {
	Type             string   `json:"type"`
	RoomTemp         float64  `json:"roomTemp"`
	Power            float64  `json:"power"`
	SetPoint         float64  `json:"setPoint"`
	SetPointDay      float64  `json:"setPointDay"`
	SetPointNight    float64  `json:"setPointNight"`
	SetPointDefrost  float64  `json:"setPointDefrost"`
	Enabled          bool     `json:"enabled"`
	OnAir            bool     `json:"onAir"`
	Flags            []string `json:"flags"`
}

// ToView renders the device into its publishable form.
func (d *Device) ToView() View {
	v := View{
		Type:            d.Type.String(),
		RoomTemp:        float64(d.RoomTemp) / 100.0,
		Power:           float64(d.Power) * 50,
		SetPoint:        float64(d.SetPoint) * 0.5,
		SetPointDay:     float64(d.SetPointDay) * 0.5,
		SetPointNight:   float64(d.SetPointNight) * 0.5,
		SetPointDefrost: float64(d.SetPointDefrost) * 0.5,
		Enabled:         d.Enabled,
		OnAir:           d.OnAir,
		Flags:           []string{},
	}
	if d.Defrost {
		v.Flags = append(v.Flags, "defrost")
	}
	if d.Timed {
		v.Flags = append(v.Flags, "timed")
	}
	if d.HeaterOn {
		v.Flags = append(v.Flags, "heaterOn")
	}
	if d.HeaterStopped {
		v.Flags = append(v.Flags, "heaterStopped")
	}
	if d.WindowOpen {
		v.Flags = append(v.Flags, "windowOpen")
	}
	if d.NoTempSensor {
		v.Flags = append(v.Flags, "noTempSensor")
	}
	if d.BatteryLow {
		v.Flags = append(v.Flags, "batteryLow")
	}
	return v
}

// Network holds the SlotCount device slots of one paired network.
type Network struct {
	Slots [SlotCount]Device
}

// Cache holds the NetworkCount networks a gateway tracks.
type Cache struct {
	Networks [NetworkCount]Network
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Slot returns the device at the given network/slot, validating bounds.
func (c *Cache) Slot(network byte, slot int) (*Device, error) {
	if int(network) >= NetworkCount {
		return nil, fmt.Errorf("cache: network %d out of range", network)
	}
	if slot < 0 || slot >= SlotCount {
		return nil, fmt.Errorf("cache: slot %d out of range", slot)
	}
	return &c.Networks[network].Slots[slot], nil
}

// Pair occupies slot on network with a device of type t, replacing
// whatever was there.
func (c *Cache) Pair(network byte, slot int, t Type) error {
	d, err := c.Slot(network, slot)
	if err != nil {
		return err
	}
	*d = Device{Type: t}
	return nil
}

// Unpair clears slot on network back to TypeNone.
func (c *Cache) Unpair(network byte, slot int) error {
	d, err := c.Slot(network, slot)
	if err != nil {
		return err
	}
	*d = Device{}
	return nil
}

// OccupiedMask returns the bitmask of slots on network holding a paired
// device (TypeNone is unoccupied).
func (c *Cache) OccupiedMask(network byte) uint16 {
	var mask uint16
	for i := 0; i < SlotCount; i++ {
		if c.Networks[network].Slots[i].Type != TypeNone {
			mask |= 1 << uint(i)
		}
	}
	return mask
}
