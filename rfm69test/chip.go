// Package rfm69test provides an in-memory RFM69 that speaks the register
// protocol over a periph spi.Conn, with DIO0 exposed as a gpiotest.Pin.
//
// Chips attached to the same Air hear each other: a packet loaded into the FIFO
// of a chip in Tx mode is delivered to every other chip that is in Rx mode with
// a matching sync word, packet format, AES key and address filter.
package rfm69test

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
)

// Mode values as stored in bits 4:2 of RegOpMode.
const (
	ModeSleep   byte = 0x00
	ModeStandby byte = 0x04
	ModeFS      byte = 0x08
	ModeTx      byte = 0x0c
	ModeRx      byte = 0x10
)

const (
	regFifo          = 0x00
	regOpMode        = 0x01
	regVersion       = 0x10
	regAfcMsb        = 0x1f
	regFeiLsb        = 0x22
	regRssiValue     = 0x24
	regIrqFlags1     = 0x27
	regIrqFlags2     = 0x28
	regSyncConfig    = 0x2e
	regSyncValue1    = 0x2f
	regPacketConfig1 = 0x37
	regPayloadLength = 0x38
	regNodeAdrs      = 0x39
	regBroadcastAdrs = 0x3a
	regPacketConfig2 = 0x3d
	regAesKey1       = 0x3e
	regTemp1         = 0x4e
	regTemp2         = 0x4f

	irqModeReady    = 0x80
	irqFifoNotEmpty = 0x40
	irqFifoOverrun  = 0x10
	irqPacketSent   = 0x08
	irqPayloadReady = 0x04
	irqCrcOk        = 0x02

	fifoSize = 66
)

// Op is one SPI transaction as seen by the chip.
type Op struct {
	Write bool
	Reg   byte
	Data  []byte
}

func (o Op) String() string {
	if o.Write {
		return fmt.Sprintf("W 0x%02x % x", o.Reg, o.Data)
	}
	return fmt.Sprintf("R 0x%02x % x", o.Reg, o.Data)
}

type airPacket struct {
	sync     []byte
	variable bool
	aesKey   []byte
	data     []byte
	corrupt  bool
}

// Chip is a simulated RFM69. It implements spi.Conn.
type Chip struct {
	DIO0 *gpiotest.Pin

	name    string
	air     *Air
	airtime time.Duration

	mu       sync.Mutex
	regs     [0x80]byte
	fifo     []byte
	ops      []Op
	sending  bool
	stuck    bool
	dropTx   bool
	failNext int
	failErr  error
	failReg  int
	pending  []func()
}

// NewChip returns a chip that is not attached to any Air. Packets it sends
// complete normally but reach nobody.
func NewChip(name string) *Chip {
	c := &Chip{
		name:    name,
		failReg: -1,
		DIO0:    &gpiotest.Pin{N: name + "-DIO0", EdgesChan: make(chan gpio.Level, 16)},
	}
	c.regs[regOpMode] = ModeStandby
	c.regs[regVersion] = 0x24
	c.regs[regRssiValue] = 0x50
	c.regs[regIrqFlags1] = irqModeReady
	c.regs[regSyncConfig] = 0x98
	for i := 0; i < 8; i++ {
		c.regs[regSyncValue1+i] = 0x01
	}
	c.regs[regPacketConfig1] = 0x10
	c.regs[regPayloadLength] = 0x40
	c.regs[0x3c] = 0x8f
	c.regs[regTemp2] = 141
	return c
}

func (c *Chip) String() string {
	return "rfm69test(" + c.name + ")"
}

func (c *Chip) Duplex() conn.Duplex {
	return conn.Full
}

// Airtime delays PacketSent and delivery of every packet by d.
func (c *Chip) Airtime(d time.Duration) {
	c.mu.Lock()
	c.airtime = d
	c.mu.Unlock()
}

func (c *Chip) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := c.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

// Tx runs one chip-select framed transaction.
func (c *Chip) Tx(w, r []byte) error {
	c.mu.Lock()
	err := c.tx(w, r)
	actions := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, f := range actions {
		f()
	}
	return err
}

func (c *Chip) tx(w, r []byte) error {
	if len(w) == 0 {
		return errors.New("rfm69test: empty transfer")
	}
	if r != nil && len(r) != len(w) {
		return fmt.Errorf("rfm69test: read buffer %d bytes, write buffer %d", len(r), len(w))
	}
	addr := w[0] & 0x7f
	write := w[0]&0x80 != 0
	if c.failNext > 0 {
		c.failNext--
		return c.failErr
	}
	if write && c.failReg == int(addr) {
		c.failReg = -1
		return c.failErr
	}

	op := Op{Write: write, Reg: addr}
	for i := 1; i < len(w); i++ {
		a := addr
		if addr != regFifo {
			a = (addr + byte(i-1)) & 0x7f
		}
		if write {
			c.writeReg(a, w[i])
			op.Data = append(op.Data, w[i])
			continue
		}
		v := c.readReg(a)
		if r != nil {
			r[i] = v
		}
		op.Data = append(op.Data, v)
	}
	c.ops = append(c.ops, op)
	return nil
}

func (c *Chip) mode() byte { return c.regs[regOpMode] & 0x1c }

func (c *Chip) writeReg(a, v byte) {
	switch a {
	case regFifo:
		if len(c.fifo) >= fifoSize {
			c.regs[regIrqFlags2] |= irqFifoOverrun
			return
		}
		c.fifo = append(c.fifo, v)
		c.startTx()
	case regOpMode:
		c.regs[regOpMode] = v
		c.setMode(v & 0x1c)
	case regIrqFlags2:
		if v&irqFifoOverrun != 0 {
			c.fifo = nil
			c.regs[regIrqFlags2] &^= irqFifoOverrun | irqPayloadReady | irqCrcOk
		}
	case regTemp1:
		// Measurement completes immediately.
		c.regs[regTemp1] = 0
	case regVersion, regRssiValue, regIrqFlags1, regTemp2:
	default:
		if a >= regAfcMsb && a <= regFeiLsb {
			return
		}
		c.regs[a] = v
	}
}

func (c *Chip) readReg(a byte) byte {
	switch a {
	case regFifo:
		if len(c.fifo) == 0 {
			return 0
		}
		v := c.fifo[0]
		c.fifo = c.fifo[1:]
		return v
	case regIrqFlags2:
		v := c.regs[regIrqFlags2]
		if len(c.fifo) > 0 {
			v |= irqFifoNotEmpty
		}
		return v
	}
	return c.regs[a]
}

func (c *Chip) setMode(m byte) {
	if c.stuck {
		c.regs[regIrqFlags1] &^= irqModeReady
		return
	}
	c.regs[regIrqFlags1] |= irqModeReady
	switch m {
	case ModeTx, ModeRx:
		c.fifo = nil
		c.regs[regIrqFlags2] = 0
	default:
		c.fifo = nil
		c.regs[regIrqFlags2] &^= irqPacketSent | irqPayloadReady | irqCrcOk
	}
}

// startTx hands a complete frame to the air once the FIFO holds one and the
// chip is transmitting.
func (c *Chip) startTx() {
	if c.mode() != ModeTx || c.sending || len(c.fifo) == 0 {
		return
	}
	variable := c.regs[regPacketConfig1]&0x80 != 0
	need := int(c.regs[regPayloadLength])
	if variable {
		need = 1 + int(c.fifo[0])
	}
	if len(c.fifo) < need {
		return
	}
	pkt := airPacket{
		sync:     c.syncWord(),
		variable: variable,
		aesKey:   c.aesKey(),
		data:     append([]byte(nil), c.fifo[:need]...),
	}
	c.fifo = c.fifo[need:]
	c.sending = true

	complete := func() {
		if c.air != nil {
			c.air.broadcast(c, pkt)
		}
		c.mu.Lock()
		c.sending = false
		if c.mode() == ModeTx && !c.dropTx {
			c.regs[regIrqFlags2] |= irqPacketSent
			c.edge()
		}
		c.mu.Unlock()
	}
	if c.airtime > 0 {
		time.AfterFunc(c.airtime, complete)
		return
	}
	c.pending = append(c.pending, complete)
}

func (c *Chip) syncWord() []byte {
	cfg := c.regs[regSyncConfig]
	if cfg&0x80 == 0 {
		return nil
	}
	n := int(cfg>>3&0x07) + 1
	return append([]byte(nil), c.regs[regSyncValue1:regSyncValue1+n]...)
}

func (c *Chip) aesKey() []byte {
	if c.regs[regPacketConfig2]&0x01 == 0 {
		return nil
	}
	return append([]byte(nil), c.regs[regAesKey1:regAesKey1+16]...)
}

func (c *Chip) edge() {
	select {
	case c.DIO0.EdgesChan <- gpio.High:
	default:
	}
}

// deliver puts a packet heard on air into the FIFO when the chip is listening
// and its packet handler would accept it.
func (c *Chip) deliver(p airPacket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode() != ModeRx || c.regs[regIrqFlags2]&irqPayloadReady != 0 {
		return false
	}
	pc1 := c.regs[regPacketConfig1]
	variable := pc1&0x80 != 0
	if !bytes.Equal(c.syncWord(), p.sync) || variable != p.variable || !bytes.Equal(c.aesKey(), p.aesKey) {
		return false
	}
	if len(p.data) == 0 {
		return false
	}
	pos := 0
	if variable {
		if p.data[0] > c.regs[regPayloadLength] {
			return false
		}
		pos = 1
	}
	switch pc1 >> 1 & 0x03 {
	case 0x01:
		if len(p.data) <= pos || p.data[pos] != c.regs[regNodeAdrs] {
			return false
		}
	case 0x02:
		if len(p.data) <= pos || (p.data[pos] != c.regs[regNodeAdrs] && p.data[pos] != c.regs[regBroadcastAdrs]) {
			return false
		}
	}
	crcOn := pc1&0x10 != 0
	flags := byte(irqPayloadReady)
	if p.corrupt && crcOn {
		// Without CrcAutoClearOff the packet handler silently drops it.
		if pc1&0x08 == 0 {
			return false
		}
	} else {
		flags |= irqCrcOk
	}
	c.fifo = append([]byte(nil), p.data...)
	c.regs[regIrqFlags2] |= flags
	c.edge()
	return true
}

// Inject makes the chip hear data as if it had been sent by a peer using the
// chip's own framing. data is the FIFO image: length byte in variable format,
// address byte when filtering, then payload.
func (c *Chip) Inject(data []byte, crcOK bool) bool {
	c.mu.Lock()
	p := airPacket{
		sync:     c.syncWord(),
		variable: c.regs[regPacketConfig1]&0x80 != 0,
		aesKey:   c.aesKey(),
		data:     append([]byte(nil), data...),
		corrupt:  !crcOK,
	}
	c.mu.Unlock()
	return c.deliver(p)
}

// SpuriousEdge raises DIO0 without any IRQ flag behind it.
func (c *Chip) SpuriousEdge() {
	c.mu.Lock()
	c.edge()
	c.mu.Unlock()
}

// SetModeStuck makes subsequent mode changes never report ModeReady.
func (c *Chip) SetModeStuck(stuck bool) {
	c.mu.Lock()
	c.stuck = stuck
	c.mu.Unlock()
}

// DropTx makes transmissions never raise PacketSent.
func (c *Chip) DropTx(drop bool) {
	c.mu.Lock()
	c.dropTx = drop
	c.mu.Unlock()
}

// FailNext makes the next n transfers fail with err.
func (c *Chip) FailNext(n int, err error) {
	c.mu.Lock()
	c.failNext = n
	c.failErr = err
	c.mu.Unlock()
}

// FailWrite makes the next write transfer addressed at reg fail with err.
func (c *Chip) FailWrite(reg byte, err error) {
	c.mu.Lock()
	c.failReg = int(reg)
	c.failErr = err
	c.mu.Unlock()
}

func (c *Chip) Reg(a byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[a&0x7f]
}

// SetReg pokes a register without going through the bus, e.g. to set the
// RSSI or temperature reading.
func (c *Chip) SetReg(a, v byte) {
	c.mu.Lock()
	c.regs[a&0x7f] = v
	c.mu.Unlock()
}

func (c *Chip) Mode() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode()
}

// WaitMode waits until the chip enters mode m.
func (c *Chip) WaitMode(m byte, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.Mode() == m {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (c *Chip) Ops() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.ops...)
}

func (c *Chip) ClearOps() {
	c.mu.Lock()
	c.ops = nil
	c.mu.Unlock()
}

// Writes returns the write transactions recorded so far.
func (c *Chip) Writes() []Op {
	var out []Op
	for _, op := range c.Ops() {
		if op.Write {
			out = append(out, op)
		}
	}
	return out
}

// FIFOWrites returns the data of every burst written to the FIFO.
func (c *Chip) FIFOWrites() [][]byte {
	var out [][]byte
	for _, op := range c.Writes() {
		if op.Reg == regFifo {
			out = append(out, op.Data)
		}
	}
	return out
}
