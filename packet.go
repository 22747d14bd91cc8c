package rfm69

import (
	"fmt"
)

type PacketFormat byte

const (
	FormatVariable PacketFormat = iota
	FormatFixed
)

// DCFree selects the DC-free encoding applied on air.
type DCFree byte

const (
	DCFreeNone       DCFree = 0x00
	DCFreeManchester DCFree = 0x20
	DCFreeWhitening  DCFree = 0x40
)

type Addressing byte

const (
	AddressNone            Addressing = 0x00
	AddressNode            Addressing = 0x02
	AddressNodeOrBroadcast Addressing = 0x04
)

const (
	packetConfig1Variable        byte = 0x80
	packetConfig1CrcOn           byte = 0x10
	packetConfig1CrcAutoClearOff byte = 0x08
)

// PacketConfig holds the framing attributes of a radio session. It is committed
// once through Device.Configure and must match on both ends of a link.
type PacketConfig struct {
	SyncWords      []byte
	SyncTolerance  uint8
	PreambleLength uint16
	Format         PacketFormat
	// MaxLength is the largest payload accepted, not counting the length or
	// address bytes. In fixed format every payload has exactly this length.
	// Zero selects the largest length the FIFO can hold.
	MaxLength        int
	CRC              bool
	DCFree           DCFree
	Addressing       Addressing
	NodeAddress      byte
	BroadcastAddress byte
	// AESKey enables the built-in AES-128 engine when set.
	AESKey []byte
}

func DefaultPacketConfig() PacketConfig {
	return PacketConfig{
		SyncWords:        []byte{0x2d, 0xd4},
		PreambleLength:   4,
		Format:           FormatVariable,
		CRC:              true,
		DCFree:           DCFreeWhitening,
		Addressing:       AddressNone,
		BroadcastAddress: 0xff,
	}
}

func (c *PacketConfig) addressed() bool { return c.Addressing != AddressNone }

// frameLimit is the largest number of bytes following the length byte that a
// single FIFO load can carry.
func (c *PacketConfig) frameLimit() int {
	limit := FifoSize
	if c.Format == FormatVariable {
		limit--
	}
	if len(c.AESKey) > 0 && limit > aesMaxFrame {
		limit = aesMaxFrame
	}
	return limit
}

// MaxPayload returns the largest payload a packet may carry.
func (c *PacketConfig) MaxPayload() int {
	limit := c.frameLimit()
	if c.addressed() {
		limit--
	}
	if c.MaxLength > 0 && c.MaxLength < limit {
		return c.MaxLength
	}
	return limit
}

func (c *PacketConfig) Validate() error {
	switch {
	case len(c.SyncWords) == 0 || len(c.SyncWords) > maxSyncWords:
		return fmt.Errorf("%w: sync word must be 1..%d bytes, got %d", ErrConfig, maxSyncWords, len(c.SyncWords))
	case c.SyncTolerance > 7:
		return fmt.Errorf("%w: sync tolerance %d out of range 0..7", ErrConfig, c.SyncTolerance)
	case c.Format != FormatVariable && c.Format != FormatFixed:
		return fmt.Errorf("%w: unknown packet format %d", ErrConfig, c.Format)
	case c.DCFree != DCFreeNone && c.DCFree != DCFreeManchester && c.DCFree != DCFreeWhitening:
		return fmt.Errorf("%w: unknown dc-free encoding 0x%02x", ErrConfig, byte(c.DCFree))
	case c.Addressing != AddressNone && c.Addressing != AddressNode && c.Addressing != AddressNodeOrBroadcast:
		return fmt.Errorf("%w: unknown address filtering 0x%02x", ErrConfig, byte(c.Addressing))
	case len(c.AESKey) != 0 && len(c.AESKey) != aesKeyLength:
		return fmt.Errorf("%w: aes key must be %d bytes, got %d", ErrConfig, aesKeyLength, len(c.AESKey))
	case c.MaxLength < 0:
		return fmt.Errorf("%w: negative max length", ErrConfig)
	case c.Format == FormatFixed && c.MaxLength == 0:
		return fmt.Errorf("%w: fixed format needs MaxLength", ErrConfig)
	}
	limit := c.frameLimit()
	if c.addressed() {
		limit--
	}
	if c.MaxLength > limit {
		return fmt.Errorf("%w: max length %d exceeds %d", ErrConfig, c.MaxLength, limit)
	}
	return nil
}

func (c *PacketConfig) syncConfig() byte {
	// SyncOn, FifoFillCondition on sync address interrupt.
	return 0x80 | byte(len(c.SyncWords)-1)<<3 | c.SyncTolerance&0x07
}

func (c *PacketConfig) packetConfig1() byte {
	v := byte(c.DCFree) | byte(c.Addressing) | packetConfig1CrcAutoClearOff
	if c.Format == FormatVariable {
		v |= packetConfig1Variable
	}
	if c.CRC {
		v |= packetConfig1CrcOn
	}
	return v
}

func (c *PacketConfig) payloadLength() byte {
	n := c.MaxPayload()
	if c.addressed() {
		n++
	}
	return byte(n)
}

// packetEngine moves one packet at a time between the caller and the FIFO.
type packetEngine struct {
	bus  *Bus
	mode *modeController
	cfg  PacketConfig
}

// commit writes the framing registers. The chip has to be in Standby.
func (p *packetEngine) commit(cfg PacketConfig) error {
	if err := p.bus.WriteRegisterBytes(RegPreambleMsb, byte(cfg.PreambleLength>>8), byte(cfg.PreambleLength)); err != nil {
		return err
	}
	sync := append([]byte{cfg.syncConfig()}, cfg.SyncWords...)
	if err := p.bus.WriteRegisterBytes(RegSyncConfig, sync...); err != nil {
		return err
	}
	if err := p.bus.WriteRegisterBytes(RegPacketConfig1,
		cfg.packetConfig1(), cfg.payloadLength(), cfg.NodeAddress, cfg.BroadcastAddress); err != nil {
		return err
	}
	if err := p.bus.WriteRegister(RegFifoThresh, fifoThreshDefault); err != nil {
		return err
	}
	pc2 := packetConfig2AutoRestart
	if len(cfg.AESKey) > 0 {
		pc2 |= packetConfig2AesOn
		if err := p.bus.WriteRegisterBytes(RegAesKey1, cfg.AESKey...); err != nil {
			return err
		}
	}
	if err := p.bus.WriteRegister(RegPacketConfig2, pc2); err != nil {
		return err
	}
	p.cfg = cfg
	p.cfg.SyncWords = append([]byte(nil), cfg.SyncWords...)
	p.cfg.AESKey = append([]byte(nil), cfg.AESKey...)
	return nil
}

// frame lays out a packet as it is loaded into the FIFO: the length byte in
// variable format, the address byte when addressing is on, then the payload.
// It performs no I/O.
func (p *packetEngine) frame(addr byte, payload []byte) ([]byte, error) {
	limit := p.cfg.MaxPayload()
	if len(payload) > limit {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLong, len(payload), limit)
	}
	if p.cfg.Format == FormatFixed && len(payload) != limit {
		return nil, fmt.Errorf("%w: %d bytes, fixed length %d", ErrPayloadLength, len(payload), limit)
	}
	buf := make([]byte, 0, len(payload)+2)
	if p.cfg.Format == FormatVariable {
		n := len(payload)
		if p.cfg.addressed() {
			n++
		}
		buf = append(buf, byte(n))
	}
	if p.cfg.addressed() {
		buf = append(buf, addr)
	}
	return append(buf, payload...), nil
}

func (p *packetEngine) load(frame []byte) error {
	if p.mode.current != ModeTx {
		return fmt.Errorf("%w: fifo load in %s", ErrInvalidState, p.mode.current)
	}
	return p.bus.WriteRegisterBytes(RegFifo, frame...)
}

// drain reads one received packet out of the FIFO.
func (p *packetEngine) drain() (*Packet, error) {
	if p.mode.current != ModeRx {
		return nil, fmt.Errorf("%w: fifo drain in %s", ErrInvalidState, p.mode.current)
	}
	n := int(p.cfg.payloadLength())
	if p.cfg.Format == FormatVariable {
		l, err := p.bus.ReadRegister(RegFifo)
		if err != nil {
			return nil, err
		}
		n = int(l)
		least := 0
		if p.cfg.addressed() {
			least = 1
		}
		if n < least || n > int(p.cfg.payloadLength()) {
			if err := p.discard(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
		}
	}
	b, err := p.bus.ReadRegisterBytes(RegFifo, n)
	if err != nil {
		return nil, err
	}
	pkt := &Packet{Payload: b}
	if p.cfg.addressed() {
		pkt.Address = b[0]
		pkt.Payload = b[1:]
	}
	if pkt.Payload == nil {
		pkt.Payload = []byte{}
	}
	return pkt, nil
}

// discard clears whatever is left in the FIFO.
func (p *packetEngine) discard() error {
	return p.bus.WriteRegister(RegIrqFlags2, IrqFifoOverrun)
}
