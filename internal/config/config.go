package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
	"periph.io/x/conn/v3/physic"

	"github.com/NV4RE/rfm69"
)

// Config is the configuration shared by the radio binaries.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Radio  RadioConfig  `yaml:"radio"`
	Packet PacketConfig `yaml:"packet"`
	Log    LogConfig    `yaml:"log"`
	App    AppConfig    `yaml:"app"`
}

// DeviceConfig names the SPI port and GPIO lines as known to periph.
type DeviceConfig struct {
	SPI   string `yaml:"spi"`
	DIO0  string `yaml:"dio0"`
	Reset string `yaml:"reset"`
}

type RadioConfig struct {
	FrequencyHz    int64  `yaml:"frequencyHz"`
	TxPower        int    `yaml:"txPower"`
	HighPower      bool   `yaml:"highPower"`
	Modem          string `yaml:"modem"`
	ModeTimeoutMs  int    `yaml:"modeTimeoutMs"`
	PollIntervalMs int    `yaml:"pollIntervalMs"`
}

// PacketConfig is the framing of the radio session. Byte strings are hex.
type PacketConfig struct {
	SyncWords        string `yaml:"syncWords"`
	SyncTolerance    int    `yaml:"syncTolerance"`
	PreambleLength   int    `yaml:"preambleLength"`
	Format           string `yaml:"format"`    // variable, fixed
	MaxLength        int    `yaml:"maxLength"` // 0 = largest the FIFO allows
	CRC              bool   `yaml:"crc"`
	DCFree           string `yaml:"dcFree"`     // none, manchester, whitening
	Addressing       string `yaml:"addressing"` // none, node, nodeOrBroadcast
	NodeAddress      int    `yaml:"nodeAddress"`
	BroadcastAddress int    `yaml:"broadcastAddress"`
	AESKey           string `yaml:"aesKey"`
}

// LogConfig selects where logs go. An empty File logs to stdout.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
	Verbose    bool   `yaml:"verbose"`
}

// AppConfig holds the behaviour of the example binaries.
type AppConfig struct {
	Message    string `yaml:"message"`
	IntervalMs int    `yaml:"intervalMs"`
	TimeoutMs  int    `yaml:"timeoutMs"`
	AckDelayMs int    `yaml:"ackDelayMs"`
}

// Load builds the configuration from defaults, then the YAML file at path if
// path is not empty, then RFM69_* environment variables, and validates it.
func Load(path string) (*Config, error) {
	cfg := getDefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func getDefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			SPI:   "/dev/spidev0.0",
			DIO0:  "GPIO25",
			Reset: "GPIO22",
		},
		Radio: RadioConfig{
			FrequencyHz:    915000000,
			TxPower:        13,
			HighPower:      true,
			Modem:          rfm69.GFSKRb250Fd250.String(),
			ModeTimeoutMs:  10,
			PollIntervalMs: 1,
		},
		Packet: PacketConfig{
			SyncWords:        "2dd4",
			PreambleLength:   4,
			Format:           "variable",
			CRC:              true,
			DCFree:           "whitening",
			Addressing:       "none",
			BroadcastAddress: 0xff,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		App: AppConfig{
			Message:    "Hello",
			IntervalMs: 1000,
			TimeoutMs:  1000,
			AckDelayMs: 50,
		},
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RFM69_SPI"); v != "" {
		cfg.Device.SPI = v
	}
	if v := os.Getenv("RFM69_DIO0"); v != "" {
		cfg.Device.DIO0 = v
	}
	if v := os.Getenv("RFM69_RESET"); v != "" {
		cfg.Device.Reset = v
	}
	if v := os.Getenv("RFM69_FREQUENCY_HZ"); v != "" {
		if hz, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Radio.FrequencyHz = hz
		}
	}
	if v := os.Getenv("RFM69_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Device.SPI == "" {
		return fmt.Errorf("device.spi must be set")
	}
	if cfg.Radio.TxPower < -18 || cfg.Radio.TxPower > 20 {
		return fmt.Errorf("radio.txPower %d out of range -18..20", cfg.Radio.TxPower)
	}
	if cfg.Radio.FrequencyHz < 290e6 || cfg.Radio.FrequencyHz > 1020e6 {
		return fmt.Errorf("radio.frequencyHz %d out of band", cfg.Radio.FrequencyHz)
	}
	if _, err := cfg.Opts(); err != nil {
		return err
	}
	pc, err := cfg.PacketConfig()
	if err != nil {
		return err
	}
	if err := pc.Validate(); err != nil {
		return err
	}
	if cfg.App.IntervalMs <= 0 || cfg.App.TimeoutMs <= 0 || cfg.App.AckDelayMs < 0 {
		return fmt.Errorf("app timings must be positive")
	}
	return nil
}

// Opts converts the radio section into driver options. The logger is left to
// the caller.
func (c *Config) Opts() (rfm69.Opts, error) {
	m, err := rfm69.ParseModemConfig(c.Radio.Modem)
	if err != nil {
		return rfm69.Opts{}, err
	}
	return rfm69.Opts{
		Frequency:    physic.Frequency(c.Radio.FrequencyHz) * physic.Hertz,
		TxPower:      int8(c.Radio.TxPower),
		HighPower:    c.Radio.HighPower,
		Modem:        m,
		ModeTimeout:  time.Duration(c.Radio.ModeTimeoutMs) * time.Millisecond,
		PollInterval: time.Duration(c.Radio.PollIntervalMs) * time.Millisecond,
	}, nil
}

// PacketConfig converts the packet section into a driver packet configuration.
func (c *Config) PacketConfig() (rfm69.PacketConfig, error) {
	p := c.Packet
	sync, err := hex.DecodeString(p.SyncWords)
	if err != nil {
		return rfm69.PacketConfig{}, fmt.Errorf("packet.syncWords: %w", err)
	}
	var key []byte
	if p.AESKey != "" {
		if key, err = hex.DecodeString(p.AESKey); err != nil {
			return rfm69.PacketConfig{}, fmt.Errorf("packet.aesKey: %w", err)
		}
	}
	if p.SyncTolerance < 0 || p.SyncTolerance > 7 {
		return rfm69.PacketConfig{}, fmt.Errorf("packet.syncTolerance %d out of range 0..7", p.SyncTolerance)
	}
	if p.PreambleLength < 0 || p.PreambleLength > 0xffff {
		return rfm69.PacketConfig{}, fmt.Errorf("packet.preambleLength %d out of range", p.PreambleLength)
	}
	if p.NodeAddress < 0 || p.NodeAddress > 0xff || p.BroadcastAddress < 0 || p.BroadcastAddress > 0xff {
		return rfm69.PacketConfig{}, fmt.Errorf("packet addresses must fit in a byte")
	}

	out := rfm69.PacketConfig{
		SyncWords:        sync,
		SyncTolerance:    uint8(p.SyncTolerance),
		PreambleLength:   uint16(p.PreambleLength),
		MaxLength:        p.MaxLength,
		CRC:              p.CRC,
		NodeAddress:      byte(p.NodeAddress),
		BroadcastAddress: byte(p.BroadcastAddress),
		AESKey:           key,
	}
	switch strings.ToLower(p.Format) {
	case "", "variable":
		out.Format = rfm69.FormatVariable
	case "fixed":
		out.Format = rfm69.FormatFixed
	default:
		return rfm69.PacketConfig{}, fmt.Errorf("packet.format %q unknown", p.Format)
	}
	switch strings.ToLower(p.DCFree) {
	case "", "none":
		out.DCFree = rfm69.DCFreeNone
	case "manchester":
		out.DCFree = rfm69.DCFreeManchester
	case "whitening":
		out.DCFree = rfm69.DCFreeWhitening
	default:
		return rfm69.PacketConfig{}, fmt.Errorf("packet.dcFree %q unknown", p.DCFree)
	}
	switch strings.ToLower(p.Addressing) {
	case "", "none":
		out.Addressing = rfm69.AddressNone
	case "node":
		out.Addressing = rfm69.AddressNode
	case "nodeorbroadcast":
		out.Addressing = rfm69.AddressNodeOrBroadcast
	default:
		return rfm69.PacketConfig{}, fmt.Errorf("packet.addressing %q unknown", p.Addressing)
	}
	return out, nil
}

func (a AppConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMs) * time.Millisecond
}

func (a AppConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

func (a AppConfig) AckDelay() time.Duration {
	return time.Duration(a.AckDelayMs) * time.Millisecond
}
