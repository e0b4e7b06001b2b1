package machine

import (
	"io"
	"sync"
)

const (
	COM1Addr = 0x03f8
)

// Serial models the transmit side of a 16550 at COM1. Every byte the
// guest sends goes to the writer unchanged.
type Serial struct {
	IER byte
	LCR byte
	MCR byte
	DLL byte
	DLM byte

	mu  sync.Mutex
	out io.Writer
	n   int
}

func NewSerial(out io.Writer) *Serial {
	if out == nil {
		out = io.Discard
	}
	return &Serial{out: out}
}

func (s *Serial) dlab() bool {
	return s.LCR&0x80 != 0
}

func (s *Serial) In(port uint64, values []byte) error {
	port -= COM1Addr

	switch {
	case port == 0 && s.dlab():
		values[0] = s.DLL
	case port == 1 && !s.dlab():
		values[0] = s.IER
	case port == 1 && s.dlab():
		values[0] = s.DLM
	case port == 3:
		values[0] = s.LCR
	case port == 4:
		values[0] = s.MCR
	case port == 5:
		// transmitter holding register and shift register always empty
		values[0] = 0x20 | 0x40
	default:
		values[0] = 0
	}
	return nil
}

func (s *Serial) Out(port uint64, values []byte) error {
	port -= COM1Addr

	switch {
	case port == 0 && !s.dlab():
		s.mu.Lock()
		defer s.mu.Unlock()
		s.n++
		_, err := s.out.Write(values[:1])
		return err
	case port == 0 && s.dlab():
		s.DLL = values[0]
	case port == 1 && !s.dlab():
		s.IER = values[0]
	case port == 1 && s.dlab():
		s.DLM = values[0]
	case port == 3:
		s.LCR = values[0]
	case port == 4:
		s.MCR = values[0]
	}
	return nil
}

// Transmitted returns the number of bytes the guest has sent.
func (s *Serial) Transmitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Divisor returns the programmed baud rate divisor.
func (s *Serial) Divisor() uint16 { return uint16(s.DLM)<<8 | uint16(s.DLL) }

func (s *Serial) IOPort() uint64 { return COM1Addr }
func (s *Serial) Size() uint64   { return 8 }
