package rfm69

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// CompletionEvent is the outcome of waiting on the radio for one operation.
type CompletionEvent byte

const (
	EventPacketSent CompletionEvent = iota + 1
	EventPayloadReady
	EventTimeout
	EventFifoOverrun
	EventCRCError
)

func (e CompletionEvent) String() string {
	switch e {
	case EventPacketSent:
		return "PacketSent"
	case EventPayloadReady:
		return "PayloadReady"
	case EventTimeout:
		return "Timeout"
	case EventFifoOverrun:
		return "FifoOverrun"
	case EventCRCError:
		return "CrcError"
	}
	return "Unknown"
}

type completion struct {
	event CompletionEvent
	err   error
}

// signal turns DIO0 edges, or IrqFlags2 polling when no pin is wired, into a
// single completion per operation.
type signal struct {
	bus  *Bus
	pin  gpio.PinIn
	poll time.Duration
}

// drain drops edges left over from a previous operation.
func (s *signal) drain() {
	if s.pin == nil {
		return
	}
	for i := 0; i < 8 && s.pin.WaitForEdge(0); i++ {
	}
}

// await starts waiting for kind and returns a channel that resolves exactly
// once, either with the condition observed on the chip or with EventTimeout.
func (s *signal) await(kind CompletionEvent, crc bool, timeout time.Duration) <-chan completion {
	done := make(chan completion, 1)
	go func() {
		ev, err := s.wait(kind, crc, timeout)
		done <- completion{event: ev, err: err}
	}()
	return done
}

func (s *signal) wait(kind CompletionEvent, crc bool, timeout time.Duration) (CompletionEvent, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			// The condition may have landed right at the deadline.
			return s.check(kind, crc, EventTimeout)
		}
		if s.pin != nil {
			if !s.pin.WaitForEdge(remaining) {
				return s.check(kind, crc, EventTimeout)
			}
		} else {
			wait := s.poll
			if wait > remaining {
				wait = remaining
			}
			time.Sleep(wait)
		}
		ev, err := s.check(kind, crc, 0)
		if err != nil || ev != 0 {
			return ev, err
		}
		// Stale or unrelated edge, keep waiting.
	}
}

// check classifies IrqFlags2 against the expected kind. It returns fallback
// when nothing relevant is flagged.
func (s *signal) check(kind CompletionEvent, crc bool, fallback CompletionEvent) (CompletionEvent, error) {
	irq, err := s.bus.ReadRegister(RegIrqFlags2)
	if err != nil {
		return 0, err
	}
	if ev := classify(irq, kind, crc); ev != 0 {
		return ev, nil
	}
	return fallback, nil
}

func classify(irq byte, kind CompletionEvent, crc bool) CompletionEvent {
	if irq&IrqFifoOverrun != 0 {
		return EventFifoOverrun
	}
	switch kind {
	case EventPacketSent:
		if irq&IrqPacketSent != 0 {
			return EventPacketSent
		}
	case EventPayloadReady:
		if irq&IrqPayloadReady != 0 {
			if crc && irq&IrqCrcOk == 0 {
				return EventCRCError
			}
			return EventPayloadReady
		}
	}
	return 0
}
