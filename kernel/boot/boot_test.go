package boot

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/set-io/kboot/kernel"
	"github.com/set-io/kboot/machine"
)

func simSystem(out *bytes.Buffer, mode kernel.Mode) (*machine.Sim, *System) {
	s := machine.NewSim(out)
	sys := New(&Board{
		CPU:     s,
		Port:    s,
		Tables:  s.Tables(),
		Vectors: s.IDT,
	}, mode)
	return s, sys
}

func run(t *testing.T, s *machine.Sim, entry func()) machine.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Run(ctx, entry)
}

func TestNewProgramsConsole(t *testing.T) {
	var out bytes.Buffer
	s, sys := simSystem(&out, kernel.Normal)

	if s.Serial.Divisor() != 3 {
		t.Errorf("divisor = %d, want 3", s.Serial.Divisor())
	}
	if sys.Heap.Size() != DefaultHeapSize {
		t.Errorf("heap size = %d", sys.Heap.Size())
	}
	if sys.Kernel.Console != sys.Serial {
		t.Error("console is not the serial port")
	}
}

func TestTimerTicksAreCounted(t *testing.T) {
	var out bytes.Buffer
	s, sys := simSystem(&out, kernel.Normal)
	s.Timer = 5

	r := run(t, s, func() { sys.Kernel.Main(nil) })

	if !r.Halted {
		t.Fatalf("result = %v", r)
	}
	if sys.Ticks() != 5 {
		t.Errorf("Ticks() = %d, want 5", sys.Ticks())
	}
	if st := s.PIC.State(); st[0].ISR != 0 {
		t.Errorf("master ISR = %#x, EOI missing", st[0].ISR)
	}
}

func TestSlaveInterruptAcknowledgedOnBoth(t *testing.T) {
	var out bytes.Buffer
	s, sys := simSystem(&out, kernel.Normal)

	s.Raise(12)
	r := run(t, s, func() { sys.Kernel.Main(nil) })

	if !r.Halted {
		t.Fatalf("result = %v", r)
	}
	if st := s.PIC.State(); st[0].ISR != 0 || st[1].ISR != 0 {
		t.Errorf("ISR = %#x/%#x after slave interrupt", st[0].ISR, st[1].ISR)
	}
	if sys.Ticks() != 0 {
		t.Errorf("Ticks() = %d for a non-timer interrupt", sys.Ticks())
	}
}

func TestBoardTicksOverride(t *testing.T) {
	sys := New(&Board{
		CPU:     machine.NewSim(nil),
		Port:    machine.NewSim(nil),
		Vectors: machine.NewSim(nil).IDT,
		Ticks:   func() uint64 { return 42 },
	}, kernel.Normal)
	if sys.Ticks() != 42 {
		t.Errorf("Ticks() = %d", sys.Ticks())
	}
}

func TestPanicDuringMainIsReported(t *testing.T) {
	var out bytes.Buffer
	s, sys := simSystem(&out, kernel.Normal)

	r := run(t, s, func() {
		sys.Kernel.Main(func() { panic("boot went wrong") })
	})

	if !r.Halted || r.Exited {
		t.Errorf("result = %v, want a halt without debug exit", r)
	}
	if !strings.HasPrefix(out.String(), "[failed]\n\nError: boot went wrong\nat boot/boot_test.go:") {
		t.Errorf("console = %q", out.String())
	}
}
