// Command receiver listens for packets and answers every one with "ACK".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NV4RE/rfm69"
	"github.com/NV4RE/rfm69/internal/config"
	"github.com/NV4RE/rfm69/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if err := run(*configPath, *verbose); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Log.Verbose = cfg.Log.Verbose || verbose
	logger, closer := logging.Setup(cfg.Log, "[rx] ")
	defer closer.Close()

	opts, err := cfg.Opts()
	if err != nil {
		return err
	}
	opts.Logger = logger
	pc, err := cfg.PacketConfig()
	if err != nil {
		return err
	}

	d, err := rfm69.NewDevice(cfg.Device.SPI, cfg.Device.DIO0, cfg.Device.Reset, &opts)
	if err != nil {
		return fmt.Errorf("failed to open radio: %w", err)
	}
	defer d.Close()
	if err := d.Init(); err != nil {
		return fmt.Errorf("failed to init radio: %w", err)
	}
	if err := d.Configure(pc); err != nil {
		return fmt.Errorf("failed to configure radio: %w", err)
	}
	log.Printf("Listening on %s", d.Frequency())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ack := []byte("ACK")
	for ctx.Err() == nil {
		pkt, err := d.Receive(cfg.App.Timeout())
		switch {
		case errors.Is(err, rfm69.ErrTimeout):
			continue
		case errors.Is(err, rfm69.ErrModeTimeout):
			log.Printf("Receive failed: %v", err)
			if err := d.Standby(); err != nil {
				return err
			}
			continue
		case err != nil:
			log.Printf("Receive failed: %v", err)
			if errors.Is(err, rfm69.ErrBus) {
				return err
			}
			continue
		}

		log.Printf("Received %q from 0x%02x, RSSI %d dBm", pkt.Payload, pkt.Address, pkt.RSSI)
		time.Sleep(cfg.App.AckDelay())
		if err := d.TransmitTo(pkt.Address, ack, cfg.App.Timeout()); err != nil {
			log.Printf("ACK failed: %v", err)
		}
	}
	log.Println("Shutting down")
	return nil
}
