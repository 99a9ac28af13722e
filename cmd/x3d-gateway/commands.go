// Copyright 2024 by Sven Fabricius, see LICENSE file

package main

import (
	"encoding/json"
	"fmt"

	"github.com/mr-sven/x3d-rfm-esp32/x3d/controller"
)

// subscribeCommands wires every §6 bus façade command onto its MQTT
// command topic, dispatching straight onto ctl's typed methods. The
// command set is fixed and known at compile time, so this is a direct
// per-topic handler list rather than cmd/mqttradio/mqtt.go's generic
// reflection-based module registry.
func subscribeCommands(m *mq, ctl *controller.Controller, logger LogPrintf) error {
	type sub struct {
		topic   string
		handler func([]byte)
	}
	subs := []sub{
		{"cmd/reset", func([]byte) { ctl.Reset() }},
		{"cmd/outdoor_temp", func(p []byte) { dispatch(logger, "outdoor_temp", p, outdoorTempCmd{}, func(c outdoorTempCmd) error {
			return ctl.OutdoorTemp(c.ValueCelsius)
		})}},
	}
	for _, tag := range [...]controller.NetworkTag{controller.NetworkA, controller.NetworkB} {
		tag := tag
		prefix := "cmd/" + netName(tag) + "/"
		subs = append(subs,
			sub{prefix + "status", func([]byte) {
				if err := ctl.DeviceStatus(tag); err != nil {
					logger("gateway: device_status %s: %v", netName(tag), err)
				}
			}},
			sub{prefix + "status_short", func([]byte) {
				if err := ctl.DeviceStatusShort(tag); err != nil {
					logger("gateway: device_status_short %s: %v", netName(tag), err)
				}
			}},
			sub{prefix + "pair", func(p []byte) {
				dispatch(logger, "pair", p, pairCmd{}, func(c pairCmd) error {
					return ctl.Pair(tag, c.Type)
				})
			}},
			sub{prefix + "pair_slot", func(p []byte) {
				dispatch(logger, "pair_slot", p, slotsCmd{}, func(c slotsCmd) error {
					return ctl.PairSlot(tag, c.Slots)
				})
			}},
			sub{prefix + "unpair", func(p []byte) {
				dispatch(logger, "unpair", p, slotsCmd{}, func(c slotsCmd) error {
					return ctl.Unpair(tag, c.Slots)
				})
			}},
			sub{prefix + "read", func(p []byte) {
				dispatch(logger, "read", p, readCmd{}, func(c readCmd) error {
					return ctl.Read(tag, c.Slots, c.RegHigh, c.RegLow)
				})
			}},
			sub{prefix + "write", func(p []byte) {
				dispatch(logger, "write", p, writeCmd{}, func(c writeCmd) error {
					return ctl.Write(tag, c.Slots, c.RegHigh, c.RegLow, c.Values)
				})
			}},
			sub{prefix + "enable", func(p []byte) {
				dispatch(logger, "enable", p, enableCmd{}, func(c enableCmd) error {
					mode, err := parseHeatMode(c.Mode)
					if err != nil {
						return err
					}
					return ctl.Enable(tag, c.Slots, mode, c.CustomTemp, c.Duration)
				})
			}},
			sub{prefix + "disable", func(p []byte) {
				dispatch(logger, "disable", p, slotsCmd{}, func(c slotsCmd) error {
					return ctl.Disable(tag, c.Slots)
				})
			}},
		)
	}

	for _, s := range subs {
		if err := m.subscribe(s.topic, s.handler); err != nil {
			return fmt.Errorf("gateway: subscribe %s: %w", s.topic, err)
		}
	}
	return nil
}

// dispatch decodes payload into a fresh T and runs fn, logging both a
// decode failure and a command failure; neither is fatal to the process
// (§7: command errors are reported, never crash the controller).
func dispatch[T any](logger LogPrintf, name string, payload []byte, _ T, fn func(T) error) {
	var cmd T
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logger("gateway: %s: decode: %v", name, err)
		return
	}
	if err := fn(cmd); err != nil {
		logger("gateway: %s: %v", name, err)
	}
}

type outdoorTempCmd struct {
	ValueCelsius float64 `json:"value_celsius"`
}

type pairCmd struct {
	Type string `json:"type"`
}

type slotsCmd struct {
	Slots uint16 `json:"slots"`
}

type readCmd struct {
	Slots   uint16 `json:"slots"`
	RegHigh byte   `json:"reg_high"`
	RegLow  byte   `json:"reg_low"`
}

type writeCmd struct {
	Slots   uint16   `json:"slots"`
	RegHigh byte     `json:"reg_high"`
	RegLow  byte     `json:"reg_low"`
	Values  []uint16 `json:"values"`
}

type enableCmd struct {
	Slots      uint16 `json:"slots"`
	Mode       string `json:"mode"`
	CustomTemp byte   `json:"custom_temp"`
	Duration   byte   `json:"duration"`
}

// parseHeatMode maps an enable command's mode string onto a
// controller.HeatMode, per §6/§13's day/night/defrost/custom/timed set.
func parseHeatMode(s string) (controller.HeatMode, error) {
	switch s {
	case "day":
		return controller.ModeDay, nil
	case "night":
		return controller.ModeNight, nil
	case "defrost":
		return controller.ModeDefrost, nil
	case "custom":
		return controller.ModeCustom, nil
	case "timed":
		return controller.ModeTimed, nil
	default:
		return 0, fmt.Errorf("gateway: unknown heat mode %q", s)
	}
}
