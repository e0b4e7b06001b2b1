package machine

import (
	"fmt"
)

// IOFunc services one port access. bytes holds 1, 2 or 4 bytes in little
// endian order.
type IOFunc func(port uint64, bytes []byte) error

type PortIO interface {
	In(uint64, []byte) error
	Out(uint64, []byte) error
}

type Device interface {
	PortIO
	IOPort() uint64
	Size() uint64
}

// portIOError backs every port nothing claimed.
type portIOError struct{}

func (p *portIOError) In(port uint64, bytes []byte) error {
	return fmt.Errorf("%w: read of port %#x", ErrUnhandledPort, port)
}

func (p *portIOError) Out(port uint64, bytes []byte) error {
	return fmt.Errorf("%w: write of %#x to port %#x", ErrUnhandledPort, bytes, port)
}

type portIOCF9 struct{}

func (p *portIOCF9) In(port uint64, bytes []byte) error { return nil }

func (p *portIOCF9) Out(port uint64, bytes []byte) error {
	return fmt.Errorf("write %#x to cf9: %w", bytes, ErrWriteToCF9)
}

// portIOPS2 reports an idle keyboard controller.
type portIOPS2 struct{}

func (p *portIOPS2) In(port uint64, bytes []byte) error {
	bytes[0] = 0x20
	return nil
}

func (p *portIOPS2) Out(port uint64, bytes []byte) error { return nil }

// PortIONoop ignores writes and reads as zero.
type PortIONoop struct{}

func (r *PortIONoop) In(port uint64, data []byte) error  { return nil }
func (r *PortIONoop) Out(port uint64, data []byte) error { return nil }
