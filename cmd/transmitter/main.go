// Command transmitter sends a numbered message at a fixed interval and logs
// the die temperature of the radio after every packet.
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
	verbose := flag.Bool("v", false, "verbose logging and register dump")
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
	logger, closer := logging.Setup(cfg.Log, "[tx] ")
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
	log.Printf("Radio ready at %s, %d dBm, %s", d.Frequency(), d.TxPower(), opts.Modem)

	if cfg.Log.Verbose {
		regs, err := d.DumpRegisters()
		if err != nil {
			return err
		}
		for _, r := range regs {
			log.Printf("reg 0x%02x = 0x%02x", byte(r.Reg), r.Value)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.App.Interval())
	defer ticker.Stop()
	for seq := 0; ; seq++ {
		msg := fmt.Sprintf("%s %d", cfg.App.Message, seq)
		if err := d.Transmit([]byte(msg), cfg.App.Timeout()); err != nil {
			log.Printf("Transmit failed: %v", err)
			if errors.Is(err, rfm69.ErrModeTimeout) {
				if err := d.Standby(); err != nil {
					return err
				}
			}
		} else {
			log.Printf("Sent %q", msg)
		}

		if temp, err := d.Temperature(); err == nil {
			log.Printf("Temperature %d°C", temp)
		}

		select {
		case <-ctx.Done():
			log.Println("Shutting down")
			return nil
		case <-ticker.C:
		}
	}
}
