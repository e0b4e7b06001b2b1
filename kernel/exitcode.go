package kernel

// ExitCode is the outcome written to the debug-exit port.
type ExitCode uint32

// The values are an external contract with whatever observes ExitPort. An
// observer configured with iosize=4 turns a write of v into host status
// (v<<1)|1, so these stay clear of 0 and 1.
const (
	Success ExitCode = 0x10
	Failed  ExitCode = 0x11
)

// ExitPort is the I/O base of the ISA debug-exit device.
const ExitPort uint16 = 0xf4

func (c ExitCode) String() string {
	switch c {
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exit signals code to the host. On bare hardware nothing listens and the
// write has no effect, so callers must still halt afterwards.
func Exit(p Port, code ExitCode) {
	p.Out32(ExitPort, uint32(code))
}
