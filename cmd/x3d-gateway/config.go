// Copyright 2024 by Sven Fabricius, see LICENSE file

package main

// Config is the gateway's TOML config file shape, following
// cmd/mqttradio/main.go's Config/MqttConfig/RadioConfig layout, trimmed
// to the gateway's single SX1231 link and two X3D networks.
type Config struct {
	Debug       bool
	DeviceID    uint32 `toml:"device_id"`
	Persistence string
	Mqtt        MqttConfig
	Radio       RadioConfig
}

// MqttConfig is the broker connection the bus façade publishes to and
// subscribes on.
type MqttConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Prefix   string
}

// RadioConfig is the SX1231's SPI/GPIO bring-up parameters.
type RadioConfig struct {
	SpiBus  string `toml:"spi_bus"`
	IntrPin string `toml:"intr_pin"`
	Power   int
}
