package rfm69

import (
	"errors"
	"testing"

	"github.com/NV4RE/rfm69/rfm69test"
)

func newTestDevice(t *testing.T, chip *rfm69test.Chip, opts *Opts) *Device {
	t.Helper()
	d, err := New(chip, chip.DIO0, nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	return d
}

func newCommitted(t *testing.T, chip *rfm69test.Chip, opts *Opts) *Device {
	t.Helper()
	d := newTestDevice(t, chip, opts)
	if err := d.Configure(DefaultPacketConfig()); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCanTransition(t *testing.T) {
	data := []struct {
		from, to Mode
		ok       bool
	}{
		{ModeSleep, ModeStandby, true},
		{ModeSleep, ModeTx, false},
		{ModeSleep, ModeRx, false},
		{ModeSleep, ModeFS, false},
		{ModeStandby, ModeTx, true},
		{ModeStandby, ModeRx, true},
		{ModeStandby, ModeFS, true},
		{ModeStandby, ModeSleep, true},
		{ModeFS, ModeTx, true},
		{ModeFS, ModeRx, true},
		{ModeFS, ModeStandby, true},
		{ModeTx, ModeStandby, true},
		{ModeTx, ModeRx, false},
		{ModeTx, ModeFS, false},
		{ModeTx, ModeSleep, true},
		{ModeRx, ModeStandby, true},
		{ModeRx, ModeTx, false},
		{ModeRx, ModeRx, true},
		{modeUnknown, ModeTx, true},
		{modeUnknown, ModeStandby, true},
	}
	for _, line := range data {
		if got := line.from.CanTransition(line.to); got != line.ok {
			t.Errorf("%s -> %s = %t, want %t", line.from, line.to, got, line.ok)
		}
	}
}

func TestModeString(t *testing.T) {
	if s := ModeRx.String(); s != "Rx" {
		t.Fatal(s)
	}
	if s := Mode(0x1c).String(); s != "Mode(0x1c)" {
		t.Fatal(s)
	}
}

func TestModeSetMapsDIO0(t *testing.T) {
	chip := rfm69test.NewChip("mode")
	d := newCommitted(t, chip, nil)

	chip.ClearOps()
	if err := d.mode.set(ModeRx); err != nil {
		t.Fatal(err)
	}
	w := chip.Writes()
	if len(w) != 2 {
		t.Fatalf("writes = %v", w)
	}
	if w[0].Reg != byte(RegDioMapping1) || w[0].Data[0] != dio0PayloadReady {
		t.Fatalf("first write = %v", w[0])
	}
	if w[1].Reg != byte(RegOpMode) || w[1].Data[0]&0x1c != byte(ModeRx) {
		t.Fatalf("second write = %v", w[1])
	}
	if chip.Mode() != rfm69test.ModeRx || d.Mode() != ModeRx {
		t.Fatalf("mode = 0x%02x / %s", chip.Mode(), d.Mode())
	}

	if err := d.mode.set(ModeStandby); err != nil {
		t.Fatal(err)
	}
	chip.ClearOps()
	if err := d.mode.set(ModeTx); err != nil {
		t.Fatal(err)
	}
	if w := chip.Writes(); w[0].Reg != byte(RegDioMapping1) || w[0].Data[0] != dio0PacketSent {
		t.Fatalf("writes = %v", w)
	}
}

func TestModeSetBeforeCommit(t *testing.T) {
	chip := rfm69test.NewChip("mode")
	d := newTestDevice(t, chip, nil)
	chip.ClearOps()
	for _, m := range []Mode{ModeTx, ModeRx} {
		if err := d.mode.set(m); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%s: err = %v", m, err)
		}
	}
	if ops := chip.Ops(); len(ops) != 0 {
		t.Fatalf("ops = %v", ops)
	}
	if err := d.mode.set(ModeFS); err != nil {
		t.Fatal(err)
	}
}

func TestModeSetSameNoIO(t *testing.T) {
	chip := rfm69test.NewChip("mode")
	d := newTestDevice(t, chip, nil)
	chip.ClearOps()
	if err := d.mode.set(ModeStandby); err != nil {
		t.Fatal(err)
	}
	if ops := chip.Ops(); len(ops) != 0 {
		t.Fatalf("ops = %v", ops)
	}
}

func TestModeSetInvalid(t *testing.T) {
	chip := rfm69test.NewChip("mode")
	d := newCommitted(t, chip, nil)
	if err := d.Sleep(); err != nil {
		t.Fatal(err)
	}
	chip.ClearOps()
	if err := d.mode.set(ModeTx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v", err)
	}
	if ops := chip.Ops(); len(ops) != 0 {
		t.Fatalf("ops = %v", ops)
	}
	if d.Mode() != ModeSleep {
		t.Fatalf("mode = %s", d.Mode())
	}
}

func TestModeTimeout(t *testing.T) {
	chip := rfm69test.NewChip("mode")
	d := newCommitted(t, chip, nil)

	chip.SetModeStuck(true)
	if err := d.mode.set(ModeRx); !errors.Is(err, ErrModeTimeout) {
		t.Fatalf("err = %v", err)
	}
	if d.Mode() != modeUnknown {
		t.Fatalf("mode = %s", d.Mode())
	}

	chip.SetModeStuck(false)
	if err := d.Standby(); err != nil {
		t.Fatal(err)
	}
	if d.Mode() != ModeStandby {
		t.Fatalf("mode = %s", d.Mode())
	}
}

func TestModePaBoost(t *testing.T) {
	chip := rfm69test.NewChip("boost")
	opts := DefaultOpts()
	opts.TxPower = 20
	d := newCommitted(t, chip, &opts)

	if v := chip.Reg(byte(RegTestPa1)); v != testPa1Normal {
		t.Fatalf("TestPa1 = 0x%02x in Standby", v)
	}
	if err := d.mode.set(ModeTx); err != nil {
		t.Fatal(err)
	}
	if v1, v2 := chip.Reg(byte(RegTestPa1)), chip.Reg(byte(RegTestPa2)); v1 != testPa1Boost || v2 != testPa2Boost {
		t.Fatalf("Tx test pa = 0x%02x 0x%02x", v1, v2)
	}
	if err := d.mode.set(ModeStandby); err != nil {
		t.Fatal(err)
	}
	if v1, v2 := chip.Reg(byte(RegTestPa1)), chip.Reg(byte(RegTestPa2)); v1 != testPa1Normal || v2 != testPa2Normal {
		t.Fatalf("Standby test pa = 0x%02x 0x%02x", v1, v2)
	}

	// Rx never boosts.
	if err := d.mode.set(ModeRx); err != nil {
		t.Fatal(err)
	}
	if v := chip.Reg(byte(RegTestPa1)); v != testPa1Normal {
		t.Fatalf("Rx TestPa1 = 0x%02x", v)
	}
}
