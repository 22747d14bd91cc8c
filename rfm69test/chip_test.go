package rfm69test

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func write(t *testing.T, c *Chip, reg byte, data ...byte) {
	t.Helper()
	w := append([]byte{reg | 0x80}, data...)
	if err := c.Tx(w, make([]byte, len(w))); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, c *Chip, reg byte, n int) []byte {
	t.Helper()
	w := make([]byte, n+1)
	w[0] = reg
	r := make([]byte, n+1)
	if err := c.Tx(w, r); err != nil {
		t.Fatal(err)
	}
	return r[1:]
}

func TestChipResetValues(t *testing.T) {
	c := NewChip("t")
	if v := read(t, c, regVersion, 1)[0]; v != 0x24 {
		t.Fatalf("version = 0x%02x", v)
	}
	if m := c.Mode(); m != ModeStandby {
		t.Fatalf("mode = 0x%02x", m)
	}
	if v := read(t, c, regIrqFlags1, 1)[0]; v&irqModeReady == 0 {
		t.Fatal("ModeReady not set")
	}
}

func TestChipBurstAutoIncrement(t *testing.T) {
	c := NewChip("t")
	write(t, c, 0x07, 0xe4, 0xc0, 0x00)
	if got := read(t, c, 0x07, 3); !bytes.Equal(got, []byte{0xe4, 0xc0, 0x00}) {
		t.Fatalf("frf = % x", got)
	}
}

func TestChipReadOnlyIgnored(t *testing.T) {
	c := NewChip("t")
	write(t, c, regVersion, 0x11)
	if v := c.Reg(regVersion); v != 0x24 {
		t.Fatalf("version = 0x%02x", v)
	}
}

func TestChipTransmitRaisesPacketSent(t *testing.T) {
	c := NewChip("t")
	write(t, c, regPacketConfig1, 0x90)
	write(t, c, regOpMode, ModeTx)
	write(t, c, regFifo, 0x02, 'h', 'i')
	if v := read(t, c, regIrqFlags2, 1)[0]; v&irqPacketSent == 0 {
		t.Fatalf("irq2 = 0x%02x", v)
	}
	select {
	case <-c.DIO0.EdgesChan:
	default:
		t.Fatal("no edge")
	}
	if w := c.FIFOWrites(); len(w) != 1 || !bytes.Equal(w[0], []byte{0x02, 'h', 'i'}) {
		t.Fatalf("fifo writes = %v", w)
	}
}

func TestChipPartialFrameWaits(t *testing.T) {
	c := NewChip("t")
	write(t, c, regPacketConfig1, 0x90)
	write(t, c, regOpMode, ModeTx)
	write(t, c, regFifo, 0x03, 'a')
	if v := read(t, c, regIrqFlags2, 1)[0]; v&irqPacketSent != 0 {
		t.Fatal("sent before frame complete")
	}
	write(t, c, regFifo, 'b', 'c')
	if v := read(t, c, regIrqFlags2, 1)[0]; v&irqPacketSent == 0 {
		t.Fatal("not sent")
	}
}

func TestAirDelivery(t *testing.T) {
	air := NewAir()
	tx, rx := air.NewChip(), air.NewChip()
	for _, c := range []*Chip{tx, rx} {
		write(t, c, regSyncConfig, 0x88, 0x2d, 0xd4)
		write(t, c, regPacketConfig1, 0x90, 0x40)
	}
	write(t, rx, regOpMode, ModeRx)
	write(t, tx, regOpMode, ModeTx)
	write(t, tx, regFifo, 0x02, 'o', 'k')

	irq := read(t, rx, regIrqFlags2, 1)[0]
	if irq&(irqPayloadReady|irqCrcOk) != irqPayloadReady|irqCrcOk {
		t.Fatalf("rx irq2 = 0x%02x", irq)
	}
	if got := read(t, rx, regFifo, 3); !bytes.Equal(got, []byte{0x02, 'o', 'k'}) {
		t.Fatalf("rx fifo = % x", got)
	}
	if air.Sent() != 1 {
		t.Fatalf("sent = %d", air.Sent())
	}
}

func TestAirSyncMismatchDropped(t *testing.T) {
	air := NewAir()
	tx, rx := air.NewChip(), air.NewChip()
	write(t, tx, regSyncConfig, 0x88, 0x2d, 0xd4)
	write(t, rx, regSyncConfig, 0x88, 0x2d, 0xd5)
	write(t, rx, regOpMode, ModeRx)
	write(t, tx, regPacketConfig1, 0x90)
	write(t, rx, regPacketConfig1, 0x90)
	write(t, tx, regOpMode, ModeTx)
	write(t, tx, regFifo, 0x01, 'x')
	if irq := read(t, rx, regIrqFlags2, 1)[0]; irq&irqPayloadReady != 0 {
		t.Fatal("packet with wrong sync word accepted")
	}
}

func TestAirCorruptWithoutAutoClearOff(t *testing.T) {
	air := NewAir()
	tx, rx := air.NewChip(), air.NewChip()
	air.CorruptNext(1)
	write(t, rx, regOpMode, ModeRx)
	write(t, tx, regOpMode, ModeTx)
	write(t, tx, regPacketConfig1, 0x90)
	write(t, rx, regPacketConfig1, 0x90)
	write(t, tx, regFifo, 0x01, 'x')
	if irq := read(t, rx, regIrqFlags2, 1)[0]; irq&irqPayloadReady != 0 {
		t.Fatal("corrupt packet surfaced with auto clear on")
	}
}

func TestChipInjectCRCError(t *testing.T) {
	c := NewChip("t")
	write(t, c, regPacketConfig1, 0x98)
	write(t, c, regOpMode, ModeRx)
	if !c.Inject([]byte{0x01, 'z'}, false) {
		t.Fatal("not delivered")
	}
	irq := read(t, c, regIrqFlags2, 1)[0]
	if irq&irqPayloadReady == 0 || irq&irqCrcOk != 0 {
		t.Fatalf("irq2 = 0x%02x", irq)
	}
	write(t, c, regIrqFlags2, irqFifoOverrun)
	if irq := read(t, c, regIrqFlags2, 1)[0]; irq&(irqFifoNotEmpty|irqPayloadReady) != 0 {
		t.Fatalf("fifo not cleared, irq2 = 0x%02x", irq)
	}
}

func TestChipStuckMode(t *testing.T) {
	c := NewChip("t")
	c.SetModeStuck(true)
	write(t, c, regOpMode, ModeRx)
	if v := read(t, c, regIrqFlags1, 1)[0]; v&irqModeReady != 0 {
		t.Fatal("ModeReady set while stuck")
	}
	c.SetModeStuck(false)
	write(t, c, regOpMode, ModeStandby)
	if v := read(t, c, regIrqFlags1, 1)[0]; v&irqModeReady == 0 {
		t.Fatal("ModeReady not set")
	}
}

func TestChipFaults(t *testing.T) {
	c := NewChip("t")
	boom := errors.New("boom")
	c.FailNext(1, boom)
	if err := c.Tx([]byte{regVersion, 0}, make([]byte, 2)); err != boom {
		t.Fatalf("err = %v", err)
	}
	c.FailWrite(regFifo, boom)
	if err := c.Tx([]byte{regFifo | 0x80, 1}, nil); err != boom {
		t.Fatalf("err = %v", err)
	}
	if err := c.Tx([]byte{regFifo | 0x80, 1}, nil); err != nil {
		t.Fatalf("err = %v", err)
	}
	if err := c.Tx([]byte{regVersion, 0}, make([]byte, 1)); err == nil {
		t.Fatal("length mismatch accepted")
	}
}

func TestChipWaitMode(t *testing.T) {
	c := NewChip("t")
	go func() {
		time.Sleep(2 * time.Millisecond)
		_ = c.Tx([]byte{regOpMode | 0x80, ModeSleep}, nil)
	}()
	if !c.WaitMode(ModeSleep, time.Second) {
		t.Fatal("mode not reached")
	}
	if c.WaitMode(ModeRx, 5*time.Millisecond) {
		t.Fatal("unexpected Rx")
	}
}
