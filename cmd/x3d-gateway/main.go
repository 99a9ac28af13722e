// Copyright 2024 by Sven Fabricius, see LICENSE file

// Command x3d-gateway wires one SX1231 radio, the X3D transaction engine,
// device cache, and controller up to an MQTT bus façade, following
// cmd/mqttradio/main.go's flag/config/bring-up shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mr-sven/x3d-rfm-esp32/persistence"
	"github.com/mr-sven/x3d-rfm-esp32/radio/periph"
	"github.com/mr-sven/x3d-rfm-esp32/radio/sx1231"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/cache"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/controller"
	"github.com/mr-sven/x3d-rfm-esp32/x3d/engine"
)

type LogPrintf func(format string, v ...interface{})

func main() {
	help := flag.Bool("help", false, "print usage help")
	configFile := flag.String("config", "x3d-gateway.toml", "path to config file")
	flag.Parse()

	if *help {
		fmt.Fprintf(os.Stderr, "Usage: %s:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	config := &Config{}
	rawConfig, err := os.ReadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot access config file: %s\n", err)
		os.Exit(1)
	}
	if err := toml.Unmarshal(rawConfig, config); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot parse config file: %s\n", err)
		os.Exit(1)
	}

	logger := LogPrintf(func(string, ...interface{}) {})
	if config.Debug {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		logger = log.Printf
	}

	m, err := newMQ(config.Mqtt, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to MQTT broker: %s\n", err)
		os.Exit(2)
	}

	log.Printf("Configuring radio")
	if err := periph.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init periph host: %s\n", err)
		os.Exit(1)
	}
	spiBus, err := periph.OpenSPI(config.Radio.SpiBus, 4*1000*1000)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open radio SPI: %s\n", err)
		os.Exit(1)
	}
	intrPin, err := periph.OpenGPIO(config.Radio.IntrPin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open radio interrupt pin: %s\n", err)
		os.Exit(1)
	}
	radio, err := sx1231.New(spiBus, intrPin, sx1231.Opts{
		Power:  byte(config.Radio.Power),
		Logger: sx1231.LogPrintf(logger),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bring up radio: %s\n", err)
		os.Exit(1)
	}

	eng := engine.New(radio, config.DeviceID, engine.LogPrintf(logger))
	devCache := cache.New()
	store := persistence.NewFileStore(config.Persistence)

	ctl := controller.New(eng, devCache, store, nil, m, func() {
		log.Printf("x3d-gateway: reboot requested, exiting")
		os.Exit(0)
	}, controller.LogPrintf(logger))
	ctl.LoadPersisted()

	log.Printf("Configuring MQTT commands")
	if err := subscribeCommands(m, ctl, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to subscribe commands: %s\n", err)
		os.Exit(1)
	}

	log.Printf("Gateway is ready")
	for {
		time.Sleep(time.Hour)
	}
}
