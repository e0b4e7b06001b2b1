package runner

import "github.com/set-io/kboot/kernel"

// Outcome classifies a finished run.
type Outcome int

const (
	Passed Outcome = iota
	Failed
	Unexpected
	TimedOut
	// Halted is a normal boot that went idle without reporting a failure.
	Halted
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Unexpected:
		return "unexpected"
	case TimedOut:
		return "timed out"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// ExitCode is the process status kboot reports for o.
func (o Outcome) ExitCode() int {
	switch o {
	case Passed, Halted:
		return 0
	case Failed:
		return 1
	default:
		return 2
	}
}

// Decode maps a value the guest wrote to the debug-exit device.
func Decode(value uint32) Outcome {
	switch kernel.ExitCode(value) {
	case kernel.Success:
		return Passed
	case kernel.Failed:
		return Failed
	default:
		return Unexpected
	}
}

// FromQEMUStatus maps a QEMU process status. isa-debug-exit makes QEMU exit
// with (value<<1)|1; anything even came from QEMU itself.
func FromQEMUStatus(status int) (Outcome, uint32) {
	if status&1 == 0 || status < 0 {
		return Unexpected, 0
	}
	v := uint32(status >> 1)
	return Decode(v), v
}
