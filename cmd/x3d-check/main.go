// Copyright 2024 by Sven Fabricius, see LICENSE file

// Command x3d-check is a bring-up diagnostic for a single SX1231 link,
// trimmed from cmd/rfm-check/main.go's dual rfm69/rfm96 register probe
// down to the one radio this gateway drives.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mr-sven/x3d-rfm-esp32/radio/periph"
	"github.com/mr-sven/x3d-rfm-esp32/radio/sx1231"
)

func panicIf(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	spiBus := flag.String("spi", "/dev/spidev0.0", "SPI bus device path")
	intrPinName := flag.String("intr", "GPIO25", "interrupt pin name")
	listen := flag.Duration("listen", 10*time.Second, "how long to listen for packets after bring-up")
	flag.Parse()

	panicIf(periph.Init())

	spi, err := periph.OpenSPI(*spiBus, 4*1000*1000)
	panicIf(err)
	intr, err := periph.OpenGPIO(*intrPinName)
	panicIf(err)

	log.Printf("Checking sx1231 on %s (intr %s)...", *spiBus, *intrPinName)
	radio, err := sx1231.New(spi, intr, sx1231.Opts{
		Logger: func(format string, v ...interface{}) { log.Printf(format, v...) },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "oops, bring-up failed: %s\n", err)
		os.Exit(1)
	}
	log.Printf("  found sx1231: OK, radio is up and listening")

	log.Printf("Listening for %s...", *listen)
	deadline := time.After(*listen)
	stats := radio.ReceiveStats()
	count := 0
	for {
		select {
		case pkt, ok := <-stats:
			if !ok {
				log.Printf("radio stopped (%v)", radio.Error())
				return
			}
			count++
			log.Printf("  packet % x (rssi=%d fei=%d)", pkt.Payload, pkt.Rssi, pkt.Fei)
		case <-deadline:
			log.Printf("done, %d packet(s) received", count)
			return
		}
	}
}
