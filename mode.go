package rfm69

import (
	"fmt"
	"time"
)

// Mode is the operating mode as encoded in bits 4:2 of RegOpMode.
type Mode byte

const (
	ModeSleep   Mode = 0x00
	ModeStandby Mode = 0x04
	ModeFS      Mode = 0x08
	ModeTx      Mode = 0x0c
	ModeRx      Mode = 0x10

	// modeUnknown is the state before the first transition and after one that
	// did not settle. Any transition is allowed out of it.
	modeUnknown Mode = 0xff
)

func (m Mode) String() string {
	switch m {
	case ModeSleep:
		return "Sleep"
	case ModeStandby:
		return "Standby"
	case ModeFS:
		return "FS"
	case ModeTx:
		return "Tx"
	case ModeRx:
		return "Rx"
	case modeUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("Mode(0x%02x)", byte(m))
}

// CanTransition reports whether the chip may be driven from m to next.
func (m Mode) CanTransition(next Mode) bool {
	if m == next || m == modeUnknown || next == ModeSleep {
		return true
	}
	switch m {
	case ModeSleep:
		return next == ModeStandby
	case ModeStandby, ModeFS:
		return next == ModeStandby || next == ModeFS || next == ModeTx || next == ModeRx
	case ModeTx, ModeRx:
		return next == ModeStandby
	}
	return false
}

type modeController struct {
	bus     *Bus
	current Mode
	timeout time.Duration
	poll    time.Duration
	// boost reports whether TX needs the high power PA boost; boosted tracks
	// what the test registers currently hold.
	boost   func() bool
	boosted bool
	// committed is set once a packet configuration has been written; Tx and
	// Rx are refused before that.
	committed bool
	logf      func(format string, v ...interface{})
}

// set writes the mode select bits and waits for ModeReady. Entering Tx or Rx
// also remaps DIO0 so the interrupt line reports the completion condition of
// that mode.
func (c *modeController) set(next Mode) error {
	if next == c.current {
		return nil
	}
	if (next == ModeTx || next == ModeRx) && !c.committed {
		return fmt.Errorf("%w: %s before packet config is committed", ErrInvalidState, next)
	}
	if !c.current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.current, next)
	}
	c.logf("rfm69: mode %s -> %s", c.current, next)

	switch next {
	case ModeTx:
		if err := c.bus.WriteRegister(RegDioMapping1, dio0PacketSent); err != nil {
			return err
		}
	case ModeRx:
		if err := c.bus.WriteRegister(RegDioMapping1, dio0PayloadReady); err != nil {
			return err
		}
	}
	if boost := next == ModeTx && c.boost(); boost != c.boosted {
		if err := c.setPaBoost(boost); err != nil {
			return err
		}
	}

	op, err := c.bus.ReadRegister(RegOpMode)
	if err != nil {
		return err
	}
	if err := c.bus.WriteRegister(RegOpMode, op&^opModeMask|byte(next)&opModeMask); err != nil {
		c.current = modeUnknown
		return err
	}
	if err := c.waitReady(next); err != nil {
		c.current = modeUnknown
		return err
	}
	c.current = next
	return nil
}

func (c *modeController) waitReady(next Mode) error {
	deadline := time.Now().Add(c.timeout)
	for {
		irq, err := c.bus.ReadRegister(RegIrqFlags1)
		if err != nil {
			return err
		}
		if irq&IrqModeReady != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s not ready after %v", ErrModeTimeout, next, c.timeout)
		}
		time.Sleep(c.poll)
	}
}

func (c *modeController) setPaBoost(on bool) error {
	pa1, pa2 := testPa1Normal, testPa2Normal
	if on {
		pa1, pa2 = testPa1Boost, testPa2Boost
	}
	if err := c.bus.WriteRegister(RegTestPa1, pa1); err != nil {
		return err
	}
	if err := c.bus.WriteRegister(RegTestPa2, pa2); err != nil {
		return err
	}
	c.boosted = on
	return nil
}
