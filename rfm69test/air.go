package rfm69test

import (
	"fmt"
	"sync"
)

// Air connects simulated chips. Every packet sent by one chip is offered to
// all others.
type Air struct {
	mu          sync.Mutex
	chips       []*Chip
	corruptNext int
	sent        int
}

func NewAir() *Air {
	return &Air{}
}

// NewChip attaches a new chip to the air.
func (a *Air) NewChip() *Chip {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := NewChip(fmt.Sprintf("chip%d", len(a.chips)))
	c.air = a
	a.chips = append(a.chips, c)
	return c
}

// CorruptNext makes the next n packets arrive with a bad CRC.
func (a *Air) CorruptNext(n int) {
	a.mu.Lock()
	a.corruptNext = n
	a.mu.Unlock()
}

// Sent returns how many packets went over the air.
func (a *Air) Sent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent
}

func (a *Air) broadcast(from *Chip, p airPacket) {
	a.mu.Lock()
	chips := append([]*Chip(nil), a.chips...)
	a.sent++
	if a.corruptNext > 0 {
		a.corruptNext--
		p.corrupt = true
	}
	a.mu.Unlock()
	for _, c := range chips {
		if c != from {
			c.deliver(p)
		}
	}
}
