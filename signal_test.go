package rfm69

import (
	"bytes"
	"testing"
	"time"

	"github.com/NV4RE/rfm69/rfm69test"
)

func TestClassify(t *testing.T) {
	data := []struct {
		irq  byte
		kind CompletionEvent
		crc  bool
		want CompletionEvent
	}{
		{IrqPacketSent, EventPacketSent, false, EventPacketSent},
		{IrqPayloadReady, EventPacketSent, false, 0},
		{IrqPayloadReady | IrqCrcOk, EventPayloadReady, true, EventPayloadReady},
		{IrqPayloadReady, EventPayloadReady, true, EventCRCError},
		{IrqPayloadReady, EventPayloadReady, false, EventPayloadReady},
		{IrqFifoOverrun | IrqPayloadReady, EventPayloadReady, false, EventFifoOverrun},
		{IrqFifoNotEmpty, EventPayloadReady, true, 0},
		{0, EventPacketSent, false, 0},
	}
	for _, line := range data {
		if got := classify(line.irq, line.kind, line.crc); got != line.want {
			t.Errorf("classify(0x%02x, %s, %t) = %s, want %s", line.irq, line.kind, line.crc, got, line.want)
		}
	}
}

func TestAwaitTimeout(t *testing.T) {
	chip := rfm69test.NewChip("signal")
	s := &signal{bus: NewBus(chip, nil), pin: chip.DIO0, poll: time.Millisecond}
	start := time.Now()
	c := <-s.await(EventPacketSent, false, 20*time.Millisecond)
	if c.err != nil {
		t.Fatal(c.err)
	}
	if c.event != EventTimeout {
		t.Fatalf("event = %s", c.event)
	}
	if d := time.Since(start); d < 20*time.Millisecond {
		t.Fatalf("returned after %v", d)
	}
}

func TestAwaitPolling(t *testing.T) {
	chip := rfm69test.NewChip("signal")
	s := &signal{bus: NewBus(chip, nil), poll: time.Millisecond}
	start := time.Now()
	c := <-s.await(EventPayloadReady, true, 10*time.Millisecond)
	if c.event != EventTimeout || c.err != nil {
		t.Fatalf("completion = %+v", c)
	}
	if d := time.Since(start); d < 10*time.Millisecond {
		t.Fatalf("returned after %v", d)
	}
}

func TestDrainStaleEdges(t *testing.T) {
	chip := rfm69test.NewChip("signal")
	s := &signal{bus: NewBus(chip, nil), pin: chip.DIO0, poll: time.Millisecond}
	chip.SpuriousEdge()
	chip.SpuriousEdge()
	// gpiotest picks randomly between a ready edge and an expired timer, so
	// drain a few times.
	for i := 0; i < 100 && len(chip.DIO0.EdgesChan) > 0; i++ {
		s.drain()
	}
	if n := len(chip.DIO0.EdgesChan); n != 0 {
		t.Fatalf("%d edges left", n)
	}
}

func TestReceiveIgnoresStaleEdge(t *testing.T) {
	chip := rfm69test.NewChip("stale")
	d := newTestDevice(t, chip, nil)
	if err := d.Configure(DefaultPacketConfig()); err != nil {
		t.Fatal(err)
	}

	res := receiveAsync(d, time.Second)
	if !chip.WaitMode(rfm69test.ModeRx, time.Second) {
		t.Fatal("chip not in Rx")
	}
	chip.SpuriousEdge()
	time.Sleep(5 * time.Millisecond)
	if !chip.Inject([]byte{0x02, 'o', 'k'}, true) {
		t.Fatal("not delivered")
	}
	r := <-res
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !bytes.Equal(r.pkt.Payload, []byte("ok")) {
		t.Fatalf("payload = %q", r.pkt.Payload)
	}
}

func TestReceivePolling(t *testing.T) {
	chip := rfm69test.NewChip("poll")
	d, err := New(chip, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Configure(DefaultPacketConfig()); err != nil {
		t.Fatal(err)
	}

	res := receiveAsync(d, time.Second)
	if !chip.WaitMode(rfm69test.ModeRx, time.Second) {
		t.Fatal("chip not in Rx")
	}
	if !chip.Inject([]byte{0x03, 'a', 'b', 'c'}, true) {
		t.Fatal("not delivered")
	}
	r := <-res
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !bytes.Equal(r.pkt.Payload, []byte("abc")) {
		t.Fatalf("payload = %q", r.pkt.Payload)
	}
	if d.Mode() != ModeStandby {
		t.Fatalf("mode = %s", d.Mode())
	}
}
