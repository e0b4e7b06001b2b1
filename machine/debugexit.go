package machine

import (
	"encoding/binary"
	"fmt"
)

// DebugExitAddr is where the isa-debug-exit device is configured.
const DebugExitAddr = 0xf4

// GuestExit ends a run. QEMU turns the written value v into the process
// status (v<<1)|1, so a guest can never produce status 0.
type GuestExit struct {
	Value  uint32
	Status int
}

func (e *GuestExit) Error() string {
	return fmt.Sprintf("guest exit: value %#x, status %d", e.Value, e.Status)
}

// ExitStatus returns the QEMU process status for value v.
func ExitStatus(v uint32) int { return int(v<<1 | 1) }

// DebugExit models isa-debug-exit with iosize 4.
type DebugExit struct{}

func (d *DebugExit) In(port uint64, data []byte) error {
	for i := range data {
		data[i] = 0
	}
	return nil
}

func (d *DebugExit) Out(port uint64, data []byte) error {
	var v uint32
	switch len(data) {
	case 1:
		v = uint32(data[0])
	case 2:
		v = uint32(binary.LittleEndian.Uint16(data))
	case 4:
		v = binary.LittleEndian.Uint32(data)
	default:
		return ErrDataLenInvalid
	}
	return &GuestExit{Value: v, Status: ExitStatus(v)}
}

func (d *DebugExit) IOPort() uint64 { return DebugExitAddr }
func (d *DebugExit) Size() uint64   { return 4 }
