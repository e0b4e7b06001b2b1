// Package selftest is the suite compiled into test kernel images.
package selftest

import (
	"fmt"

	"github.com/set-io/kboot/kernel"
	"github.com/set-io/kboot/kernel/boot"
	"github.com/set-io/kboot/kernel/pic"
)

// Options selects the optional parts of the suite.
type Options struct {
	// Timer adds a test that waits for a tick on the remapped timer vector.
	// Only enable it on boards that deliver IRQ0.
	Timer bool

	// Fail appends a test with this name that always fails.
	Fail string
}

type suite struct {
	sys *boot.System
}

// Suite returns the self tests for sys in run order.
func Suite(sys *boot.System, opts Options) []kernel.Testable {
	s := &suite{sys: sys}
	tests := []kernel.Testable{
		kernel.Named("trivial_assertion", s.trivialAssertion),
		kernel.Named("serial_output", s.serialOutput),
		kernel.Named("interrupts_enabled", s.interruptsEnabled),
		kernel.Named("pic_remapped", s.picRemapped),
		kernel.Named("heap_alignment", s.heapAlignment),
		kernel.Named("heap_reuse", s.heapReuse),
		kernel.Named("heap_large_allocation", s.largeAllocation),
	}
	if opts.Timer {
		tests = append(tests, kernel.Named("timer_tick", s.timerTick))
	}
	if opts.Fail != "" {
		tests = append(tests, Failing(opts.Fail))
	}
	return tests
}

// Failing returns a test that fails with an assertion.
func Failing(name string) kernel.Testable {
	return kernel.Named(name, func() {
		assert(false, "assertion failed: %s is set up to fail", name)
	})
}

func assert(ok bool, format string, args ...any) {
	if !ok {
		panic(fmt.Sprintf(format, args...))
	}
}

func (s *suite) trivialAssertion() {
	x := 1
	assert(x == 1, "assertion failed: 1 != 1")
}

func (s *suite) serialOutput() {
	_, _ = s.sys.Serial.WriteString("test_println output\n")
	assert(s.sys.Serial.Dropped() == 0, "serial dropped %d bytes", s.sys.Serial.Dropped())
}

func (s *suite) interruptsEnabled() {
	assert(s.sys.Kernel.Initialized(), "kernel not initialized")
	assert(s.sys.Kernel.CPU.InterruptsEnabled(), "interrupts disabled after init")
}

func (s *suite) picRemapped() {
	assert(s.sys.PIC.Initialized(), "PIC not initialized")
	assert(s.sys.PIC.HandlesInterrupt(pic.Timer), "timer vector %d not routed to the PIC", pic.Timer)
	assert(!s.sys.PIC.HandlesInterrupt(8), "PIC still claims the double fault vector")

	var saved, probe [2]uint8
	s.sys.Kernel.PICs.With(s.sys.Kernel.CPU, func(kernel.InterruptController) {
		saved = s.sys.PIC.Masks()
		s.sys.PIC.SetMasks([2]uint8{saved[0], saved[1] ^ 0x80})
		probe = s.sys.PIC.Masks()
		s.sys.PIC.SetMasks(saved)
	})
	assert(probe[1] == saved[1]^0x80, "slave mask reads %#x, want %#x", probe[1], saved[1]^0x80)
}

func (s *suite) heapAlignment() {
	for _, l := range []kernel.Layout{
		{Size: 1, Align: 1},
		{Size: 8, Align: 8},
		{Size: 24, Align: 16},
		{Size: 100, Align: 4096},
	} {
		addr := s.sys.Heap.Alloc(l)
		assert(addr%l.Align == 0, "%v allocated at unaligned %#x", l, addr)
		s.sys.Heap.Dealloc(addr)
	}
}

func (s *suite) heapReuse() {
	l := kernel.Layout{Size: 8, Align: 8}
	n := 2 * int(s.sys.Heap.Size()/l.Size)
	for i := 0; i < n; i++ {
		s.sys.Heap.Dealloc(s.sys.Heap.Alloc(l))
	}
	assert(s.sys.Heap.Used() == 0, "heap not reclaimed: %d bytes used", s.sys.Heap.Used())
}

func (s *suite) largeAllocation() {
	const n = 1000
	var addrs []uintptr
	for size := uintptr(8); size <= n*8; size *= 2 {
		addrs = append(addrs, s.sys.Heap.Alloc(kernel.Layout{Size: size, Align: 8}))
	}
	assert(s.sys.Heap.Used() >= n*8, "heap used %d bytes", s.sys.Heap.Used())
	for _, a := range addrs {
		s.sys.Heap.Dealloc(a)
	}
	assert(s.sys.Heap.Allocations() == 0, "%d allocations live", s.sys.Heap.Allocations())
}

func (s *suite) timerTick() {
	before := s.sys.Ticks()
	s.sys.Kernel.CPU.Halt()
	assert(s.sys.Ticks() > before, "no timer tick while halted")
}
