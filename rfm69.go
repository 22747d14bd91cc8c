package rfm69

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	ErrBus              = errors.New("rfm69: bus fault")
	ErrNotDetected      = errors.New("rfm69: version not matched")
	ErrConfig           = errors.New("rfm69: invalid configuration")
	ErrInvalidState     = errors.New("rfm69: invalid state")
	ErrModeTimeout      = errors.New("rfm69: mode ready timeout")
	ErrPayloadTooLong   = errors.New("rfm69: payload too long")
	ErrPayloadLength    = errors.New("rfm69: payload length does not match fixed length")
	ErrReadOnlyRegister = errors.New("rfm69: register is read-only or reserved")
	ErrTimeout          = errors.New("rfm69: timeout")
	ErrCRC              = errors.New("rfm69: crc error")
	ErrFifoOverrun      = errors.New("rfm69: fifo overrun")
	ErrInvalidLength    = errors.New("rfm69: received length out of range")
)

const (
	DefaultModeTimeout  = 10 * time.Millisecond
	DefaultPollInterval = time.Millisecond
	temperatureTimeout  = 100 * time.Millisecond
)

// Packet is a received packet. Address is only meaningful when the session
// uses address filtering.
type Packet struct {
	Address byte
	Payload []byte
	RSSI    int
}

type Opts struct {
	Frequency physic.Frequency
	// TxPower in dBm. HighPower selects the PA1/PA2 path of the RFM69HW.
	TxPower   int8
	HighPower bool
	Modem     ModemConfig
	// CS is an optional chip select driven around every transfer.
	CS           gpio.PinOut
	ModeTimeout  time.Duration
	PollInterval time.Duration
	Logger       *log.Logger
}

func DefaultOpts() Opts {
	return Opts{
		Frequency:    915 * physic.MegaHertz,
		TxPower:      13,
		HighPower:    true,
		Modem:        GFSKRb250Fd250,
		ModeTimeout:  DefaultModeTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Device drives one RFM69 transceiver. It is owned by a single caller:
// transmit and receive requests must be serialized, the chip has one FIFO and
// one mode at a time.
type Device struct {
	bus       *Bus
	dio0      gpio.PinIn
	reset     gpio.PinOut
	port      spi.PortCloser
	opts      Opts
	mode      *modeController
	packet    *packetEngine
	signal    *signal
	txPower   int8
	frequency physic.Frequency
	logger    *log.Logger
}

// NewDevice opens the SPI port and pins by name through the periph host
// drivers. dio0 may be empty, the driver then polls the IRQ flags.
func NewDevice(spiDev, dio0, rst string, opts *Opts) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	if _, err := driverreg.Init(); err != nil {
		return nil, err
	}

	p, err := spireg.Open(spiDev)
	if err != nil {
		return nil, err
	}
	c, err := p.Connect(8*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, err
	}

	var irq gpio.PinIn
	if dio0 != "" {
		pin := gpioreg.ByName(dio0)
		if pin == nil {
			p.Close()
			return nil, fmt.Errorf("rfm69: failed to find DIO0 pin %q", dio0)
		}
		irq = pin
	}

	var reset gpio.PinOut
	if rst != "" {
		pin := gpioreg.ByName(rst)
		if pin == nil {
			p.Close()
			return nil, fmt.Errorf("rfm69: failed to find RESET pin %q", rst)
		}
		reset = pin
	}

	d, err := New(c, irq, reset, opts)
	if err != nil {
		p.Close()
		return nil, err
	}
	d.port = p
	return d, nil
}

// New wraps an already connected SPI device. It performs no SPI transfers;
// call Init and then Configure before using the radio.
func New(conn spi.Conn, dio0 gpio.PinIn, reset gpio.PinOut, opts *Opts) (*Device, error) {
	o := DefaultOpts()
	if opts != nil {
		o = *opts
	}
	if o.ModeTimeout <= 0 {
		o.ModeTimeout = DefaultModeTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Frequency == 0 {
		o.Frequency = 915 * physic.MegaHertz
	}
	logger := o.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if dio0 != nil {
		if err := dio0.In(gpio.PullDown, gpio.RisingEdge); err != nil {
			return nil, err
		}
	}
	if reset != nil {
		if err := reset.Out(gpio.Low); err != nil {
			return nil, err
		}
	}

	bus := NewBus(conn, o.CS)
	d := &Device{
		bus:       bus,
		dio0:      dio0,
		reset:     reset,
		opts:      o,
		txPower:   o.TxPower,
		frequency: o.Frequency,
		logger:    logger,
	}
	d.mode = &modeController{
		bus:     bus,
		current: modeUnknown,
		timeout: o.ModeTimeout,
		poll:    o.PollInterval,
		boost:   d.needsBoost,
		logf:    logger.Printf,
	}
	d.packet = &packetEngine{bus: bus, mode: d.mode}
	d.signal = &signal{bus: bus, pin: dio0, poll: o.PollInterval}
	return d, nil
}

// Bus exposes the register bus for diagnostics.
func (d *Device) Bus() *Bus { return d.bus }

// Init resets the chip, checks it answers with the expected version and loads
// the radio settings from the options. The chip is left in Standby.
func (d *Device) Init() error {
	if err := d.Reset(); err != nil {
		return err
	}

	v, err := d.Version()
	if err != nil {
		return err
	}
	if v != ExpectedVersion {
		return fmt.Errorf("%w: expect 0x%02x found 0x%02x", ErrNotDetected, ExpectedVersion, v)
	}
	d.logger.Printf("rfm69: version 0x%02x", v)

	d.mode.committed = false
	d.mode.current = modeUnknown
	if err := d.mode.set(ModeStandby); err != nil {
		return err
	}

	if err := d.bus.WriteRegister(RegFifoThresh, fifoThreshDefault); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(RegTestDagc, dagcImprovedLowBeta1); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(RegLna, lnaDefault); err != nil {
		return err
	}
	if err := d.mode.setPaBoost(false); err != nil {
		return err
	}
	if err := d.SetModemConfig(d.opts.Modem); err != nil {
		return err
	}
	if err := d.SetTxPower(d.txPower); err != nil {
		return err
	}
	return d.SetFrequency(d.frequency)
}

// Reset pulses the reset line. RFM69 reset is active high.
func (d *Device) Reset() error {
	if d.reset == nil {
		return nil
	}
	if err := d.reset.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(100 * time.Microsecond)
	if err := d.reset.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func (d *Device) Version() (byte, error) {
	return d.bus.ReadRegister(RegVersion)
}

// Mode returns the operating mode the driver last drove the chip into.
func (d *Device) Mode() Mode {
	return d.mode.current
}

// Configure validates and commits the packet framing. It is only accepted in
// Standby.
func (d *Device) Configure(cfg PacketConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if d.mode.current != ModeStandby {
		return fmt.Errorf("%w: configure in %s", ErrInvalidState, d.mode.current)
	}
	if err := d.packet.commit(cfg); err != nil {
		return err
	}
	d.mode.committed = true
	return nil
}

// Config returns the committed packet configuration.
func (d *Device) Config() (PacketConfig, bool) {
	return d.packet.cfg, d.mode.committed
}

func (d *Device) ready() error {
	if !d.mode.committed {
		return fmt.Errorf("%w: not configured", ErrInvalidState)
	}
	if d.mode.current != ModeStandby {
		return fmt.Errorf("%w: %s, expected Standby", ErrInvalidState, d.mode.current)
	}
	return nil
}

// restore brings the chip back to Standby after an operation. An error from
// the operation itself takes precedence.
func (d *Device) restore(err *error) {
	if e := d.mode.set(ModeStandby); e != nil && *err == nil {
		*err = e
	}
}

// Transmit sends payload to the broadcast address (or without address when
// addressing is off) and waits up to timeout for PacketSent.
func (d *Device) Transmit(payload []byte, timeout time.Duration) error {
	return d.TransmitTo(d.packet.cfg.BroadcastAddress, payload, timeout)
}

func (d *Device) TransmitTo(addr byte, payload []byte, timeout time.Duration) (err error) {
	if !d.mode.committed {
		return fmt.Errorf("%w: not configured", ErrInvalidState)
	}
	frame, err := d.packet.frame(addr, payload)
	if err != nil {
		return err
	}
	if err := d.ready(); err != nil {
		return err
	}

	d.signal.drain()
	defer d.restore(&err)

	if err := d.mode.set(ModeTx); err != nil {
		return err
	}
	if err := d.packet.load(frame); err != nil {
		return err
	}
	c := <-d.signal.await(EventPacketSent, false, timeout)
	if c.err != nil {
		return c.err
	}
	switch c.event {
	case EventPacketSent:
		return nil
	case EventFifoOverrun:
		return ErrFifoOverrun
	}
	return fmt.Errorf("%w: packet not sent after %v", ErrTimeout, timeout)
}

// Receive listens for one packet. The chip is returned to Standby whatever
// the outcome.
func (d *Device) Receive(timeout time.Duration) (pkt *Packet, err error) {
	if err := d.ready(); err != nil {
		return nil, err
	}

	d.signal.drain()
	defer d.restore(&err)

	if err := d.mode.set(ModeRx); err != nil {
		return nil, err
	}
	c := <-d.signal.await(EventPayloadReady, d.packet.cfg.CRC, timeout)
	if c.err != nil {
		return nil, c.err
	}
	switch c.event {
	case EventPayloadReady:
	case EventCRCError:
		if err := d.packet.discard(); err != nil {
			return nil, err
		}
		return nil, ErrCRC
	case EventFifoOverrun:
		if err := d.packet.discard(); err != nil {
			return nil, err
		}
		return nil, ErrFifoOverrun
	default:
		return nil, fmt.Errorf("%w: no packet after %v", ErrTimeout, timeout)
	}

	pkt, err = d.packet.drain()
	if err != nil {
		return nil, err
	}
	rssi, err := d.RSSI()
	if err != nil {
		return nil, err
	}
	pkt.RSSI = rssi
	return pkt, nil
}

// ReceiveContinuous receives packets into msg until ctx is done. Timeouts and
// corrupted packets are skipped; any other error stops the loop.
func (d *Device) ReceiveContinuous(ctx context.Context, timeout time.Duration, msg chan<- *Packet) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt, err := d.Receive(timeout)
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrCRC), errors.Is(err, ErrInvalidLength), errors.Is(err, ErrFifoOverrun):
			d.logger.Printf("rfm69: dropped packet: %v", err)
			continue
		case err != nil:
			return err
		}

		select {
		case msg <- pkt:
		case <-ctx.Done():
			return nil
		}
	}
}

// Sleep puts the chip in its lowest power mode. Wake brings it back.
func (d *Device) Sleep() error {
	return d.mode.set(ModeSleep)
}

func (d *Device) Wake() error {
	if d.mode.current != ModeSleep {
		return fmt.Errorf("%w: wake from %s", ErrInvalidState, d.mode.current)
	}
	return d.mode.set(ModeStandby)
}

// Standby forces the chip into Standby, which is how an operation that failed
// with ErrModeTimeout is recovered.
func (d *Device) Standby() error {
	return d.mode.set(ModeStandby)
}

// Temperature returns the die temperature in °C. The sensor is uncalibrated
// and only usable in Standby.
func (d *Device) Temperature() (int, error) {
	if d.mode.current != ModeStandby {
		return 0, fmt.Errorf("%w: temperature in %s", ErrInvalidState, d.mode.current)
	}
	if err := d.bus.WriteRegister(RegTemp1, temp1MeasStart); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(temperatureTimeout)
	for {
		t1, err := d.bus.ReadRegister(RegTemp1)
		if err != nil {
			return 0, err
		}
		if t1&temp1MeasRunning == 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: temperature measurement", ErrTimeout)
		}
		time.Sleep(d.opts.PollInterval)
	}
	t2, err := d.bus.ReadRegister(RegTemp2)
	if err != nil {
		return 0, err
	}
	return temperatureBase - int(t2), nil
}

// RSSI returns the last measured signal strength in dBm.
func (d *Device) RSSI() (int, error) {
	v, err := d.bus.ReadRegister(RegRssiValue)
	if err != nil {
		return 0, err
	}
	return -int(v) / 2, nil
}

func (d *Device) SetFrequency(f physic.Frequency) error {
	hz := uint64(f / physic.Hertz)
	if hz < minFrequencyHz || hz > maxFrequencyHz {
		return fmt.Errorf("%w: frequency %s out of band", ErrConfig, f)
	}
	frf := (hz << 19) / fxoscHz
	if err := d.bus.WriteRegisterBytes(RegFrfMsb, byte(frf>>16), byte(frf>>8), byte(frf)); err != nil {
		return err
	}
	d.frequency = f
	return nil
}

func (d *Device) Frequency() physic.Frequency {
	return d.frequency
}

// SetTxPower selects the power amplifiers and output level. Out of range
// values are clamped to what the module supports.
func (d *Device) SetTxPower(power int8) error {
	var pa byte
	if d.opts.HighPower {
		power = clamp(power, -2, 20)
		switch {
		case power <= 13:
			pa = paLevelPa1On | byte(power+18)&paLevelOutputPower
		case power >= 18:
			pa = paLevelPa1On | paLevelPa2On | byte(power+11)&paLevelOutputPower
		default:
			pa = paLevelPa1On | paLevelPa2On | byte(power+14)&paLevelOutputPower
		}
	} else {
		power = clamp(power, -18, 13)
		pa = paLevelPa0On | byte(power+18)&paLevelOutputPower
	}
	if err := d.bus.WriteRegister(RegPaLevel, pa); err != nil {
		return err
	}
	d.txPower = power
	return nil
}

func (d *Device) TxPower() int8 {
	return d.txPower
}

func (d *Device) needsBoost() bool {
	return d.opts.HighPower && d.txPower >= 18
}

func clamp(v, lo, hi int8) int8 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RegisterValue is one entry of a register dump.
type RegisterValue struct {
	Reg   Register
	Value byte
}

// DumpRegisters reads the whole configuration space plus the test registers.
func (d *Device) DumpRegisters() ([]RegisterValue, error) {
	n := int(RegTemp2 - RegOpMode + 1)
	b, err := d.bus.ReadRegisterBytes(RegOpMode, n)
	if err != nil {
		return nil, err
	}
	out := make([]RegisterValue, 0, n+5)
	for i, v := range b {
		out = append(out, RegisterValue{Reg: RegOpMode + Register(i), Value: v})
	}
	for _, reg := range []Register{RegTestLna, RegTestPa1, RegTestPa2, RegTestDagc, RegTestAfc} {
		v, err := d.bus.ReadRegister(reg)
		if err != nil {
			return nil, err
		}
		out = append(out, RegisterValue{Reg: reg, Value: v})
	}
	return out, nil
}

// Close puts the chip to sleep and releases the SPI port if NewDevice opened it.
func (d *Device) Close() error {
	err := d.Sleep()
	if d.port != nil {
		if e := d.port.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
