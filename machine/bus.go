package machine

import "log"

const portRange = 0x10000

// Bus routes port accesses to devices. Ports nobody registered fail with
// ErrUnhandledPort.
type Bus struct {
	ports   [portRange]PortIO
	devices []Device
}

// NewBus returns a bus with the legacy ranges a PC firmware leaves behind
// already claimed.
func NewBus() *Bus {
	b := &Bus{}
	b.Register(0, portRange, &portIOError{})
	b.Register(0xcf9, 0xcfa, &portIOCF9{})
	b.Register(0x3c0, 0x3db, &PortIONoop{})
	b.Register(0x3b4, 0x3b6, &PortIONoop{})
	b.Register(0x2f8, 0x300, &PortIONoop{})
	b.Register(0x3e8, 0x3f0, &PortIONoop{})
	b.Register(0x2e8, 0x2f0, &PortIONoop{})
	b.Register(0x60, 0x70, &portIOPS2{})
	b.Register(0xed, 0xee, &PortIONoop{})
	return b
}

// Register claims [start, end) for io.
func (b *Bus) Register(start, end uint64, io PortIO) {
	for i := start; i < end && i < portRange; i++ {
		b.ports[i] = io
	}
}

// Attach claims the range a device declares.
func (b *Bus) Attach(dev Device) {
	b.devices = append(b.devices, dev)
	b.Register(dev.IOPort(), dev.IOPort()+dev.Size(), dev)
}

// Devices returns the attached devices in attach order.
func (b *Bus) Devices() []Device { return b.devices }

func (b *Bus) In(port uint64, data []byte) error {
	if debug {
		log.Printf("in  %#04x [%d]", port, len(data))
	}
	return b.ports[port&(portRange-1)].In(port, data)
}

func (b *Bus) Out(port uint64, data []byte) error {
	if debug {
		log.Printf("out %#04x %#x", port, data)
	}
	return b.ports[port&(portRange-1)].Out(port, data)
}

var debug bool

// DebugEnabled turns on logging of every port access.
func DebugEnabled() { debug = true }
