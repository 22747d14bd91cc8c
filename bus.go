package rfm69

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// BusError is returned when the SPI transport reports a transfer fault. It is
// never retried: once a transfer failed nothing can be assumed about the state
// of the following ones.
type BusError struct {
	Op  string
	Reg Register
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("rfm69: bus %s 0x%02x: %v", e.Op, byte(e.Reg), e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBus) true for every BusError.
func (e *BusError) Is(target error) bool { return target == ErrBus }

// Bus issues register transactions against the chip. When CS is set the chip
// select line is driven by the bus itself instead of the SPI controller, which
// is how a radio sharing a controller with other peripherals is usually wired.
type Bus struct {
	SPI spi.Conn
	CS  gpio.PinOut
}

func NewBus(conn spi.Conn, cs gpio.PinOut) *Bus {
	return &Bus{SPI: conn, CS: cs}
}

func (b *Bus) ReadRegister(reg Register) (byte, error) {
	w := []byte{byte(reg) & readMask, 0x00}
	r := make([]byte, len(w))
	if err := b.tx("read", reg, w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (b *Bus) ReadRegisterBytes(reg Register, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	w := make([]byte, n+1)
	w[0] = byte(reg) & readMask
	r := make([]byte, len(w))
	if err := b.tx("read", reg, w, r); err != nil {
		return nil, err
	}
	return r[1:], nil
}

func (b *Bus) WriteRegister(reg Register, v byte) error {
	return b.WriteRegisterBytes(reg, v)
}

// WriteRegisterBytes writes a burst starting at reg. The chip auto-increments
// the address after every byte except for the FIFO, so every register the
// burst lands on is checked before anything goes out on the wire.
func (b *Bus) WriteRegisterBytes(reg Register, bytes ...byte) error {
	if len(bytes) == 0 {
		return nil
	}
	last := reg
	if reg != RegFifo {
		if int(reg)+len(bytes)-1 > 0x7f {
			return fmt.Errorf("%w: burst at 0x%02x overflows the register file", ErrReadOnlyRegister, byte(reg))
		}
		last = reg + Register(len(bytes)-1)
	}
	for a := reg; ; a++ {
		if !writable(a) {
			return fmt.Errorf("%w: 0x%02x", ErrReadOnlyRegister, byte(a))
		}
		if a == last {
			break
		}
	}
	w := append([]byte{byte(reg) | writeMask}, bytes...)
	return b.tx("write", reg, w, make([]byte, len(w)))
}

// tx performs one chip-select framed transfer. The select line is released on
// every return path.
func (b *Bus) tx(op string, reg Register, w, r []byte) (err error) {
	if b.CS != nil {
		if err := b.CS.Out(gpio.Low); err != nil {
			return &BusError{Op: op, Reg: reg, Err: err}
		}
		defer func() {
			if e := b.CS.Out(gpio.High); e != nil && err == nil {
				err = &BusError{Op: op, Reg: reg, Err: e}
			}
		}()
	}
	if err := b.SPI.Tx(w, r); err != nil {
		return &BusError{Op: op, Reg: reg, Err: err}
	}
	return nil
}
