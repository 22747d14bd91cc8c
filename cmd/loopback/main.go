// Command loopback runs a transmitter and a receiver over two simulated
// chips, which exercises the whole driver without radio hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/NV4RE/rfm69"
	"github.com/NV4RE/rfm69/internal/config"
	"github.com/NV4RE/rfm69/internal/logging"
	"github.com/NV4RE/rfm69/rfm69test"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	count := flag.Int("count", 10, "number of packets to send")
	corrupt := flag.Int("corrupt", 1, "number of packets to corrupt on air")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if err := run(*configPath, *count, *corrupt, *verbose); err != nil {
		log.Fatal(err)
	}
}

func open(chip *rfm69test.Chip, opts rfm69.Opts, pc rfm69.PacketConfig) (*rfm69.Device, error) {
	d, err := rfm69.New(chip, chip.DIO0, nil, &opts)
	if err != nil {
		return nil, err
	}
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, d.Configure(pc)
}

func run(configPath string, count, corrupt int, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Log.Verbose = cfg.Log.Verbose || verbose
	logger, closer := logging.Setup(cfg.Log, "[loopback] ")
	defer closer.Close()

	opts, err := cfg.Opts()
	if err != nil {
		return err
	}
	if cfg.Log.Verbose {
		opts.Logger = logger
	}
	pc, err := cfg.PacketConfig()
	if err != nil {
		return err
	}

	air := rfm69test.NewAir()
	txChip, rxChip := air.NewChip(), air.NewChip()
	tx, err := open(txChip, opts, pc)
	if err != nil {
		return fmt.Errorf("transmitter: %w", err)
	}
	rx, err := open(rxChip, opts, pc)
	if err != nil {
		return fmt.Errorf("receiver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msg := make(chan *rfm69.Packet, count)
	done := make(chan error, 1)
	go func() {
		done <- rx.ReceiveContinuous(ctx, cfg.App.Timeout(), msg)
	}()

	air.CorruptNext(corrupt)
	received := 0
	for seq := 0; seq < count; seq++ {
		if !rxChip.WaitMode(rfm69test.ModeRx, time.Second) {
			return fmt.Errorf("receiver never listened")
		}
		payload := fmt.Sprintf("%s %d", cfg.App.Message, seq)
		if err := tx.Transmit([]byte(payload), cfg.App.Timeout()); err != nil {
			return err
		}
		select {
		case pkt := <-msg:
			received++
			log.Printf("Received %q, RSSI %d dBm", pkt.Payload, pkt.RSSI)
		case <-time.After(cfg.App.Timeout()):
			log.Printf("Lost %q", payload)
		}
	}

	cancel()
	if err := <-done; err != nil {
		return err
	}
	log.Printf("%d of %d packets received, %d sent on air", received, count, air.Sent())
	return nil
}
