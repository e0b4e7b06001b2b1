// Package kernel is the bootstrap and self-test core of a freestanding kernel.
//
// It owns the boot ordering, the panic reporting path and the in-kernel test
// harness. Everything hardware specific is reached through the small
// collaborator interfaces below so the same core runs on real hardware
// (kernel/cpu) and on the simulated board in package machine.
package kernel

import "io"

// CPU is the subset of processor control the core needs.
type CPU interface {
	EnableInterrupts()
	DisableInterrupts()
	InterruptsEnabled() bool

	// Halt stops instruction execution until the next interrupt.
	Halt()
}

// Port performs programmed I/O on the x86 I/O port space.
type Port interface {
	In8(port uint16) uint8
	Out8(port uint16, v uint8)
	Out32(port uint16, v uint32)
}

// Console is a best-effort diagnostic channel. Write errors are ignored by
// every caller in this package.
type Console interface {
	io.Writer
	io.StringWriter
}

// DescriptorTables installs the segment descriptors and the task state
// segment. Load must be called exactly once.
type DescriptorTables interface {
	Load()
}

// InterruptVectors installs the handler for every vector the kernel services.
type InterruptVectors interface {
	Load()
}

// InterruptController remaps and unmasks the hardware interrupt controller.
// Initialize must be safe to call with interrupts disabled.
type InterruptController interface {
	Initialize()
}

// IRQHandler runs for a hardware interrupt delivered on vector.
type IRQHandler func(vector uint8)
