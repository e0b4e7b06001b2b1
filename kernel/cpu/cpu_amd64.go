package cpu

import "sync/atomic"

// flagIF is the interrupt-enable bit of RFLAGS.
const flagIF = 1 << 9

// EnableInterrupts enables interrupt delivery (sti).
func EnableInterrupts()

// DisableInterrupts masks maskable interrupts (cli).
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt (hlt).
func Halt()

// Flags returns RFLAGS.
func Flags() uint64

// Outb writes a byte to an I/O port.
func Outb(port uint16, v uint8)

// Inb reads a byte from an I/O port.
func Inb(port uint16) uint8

// Outl writes a 32-bit value to an I/O port.
func Outl(port uint16, v uint32)

// LoadGDT loads the descriptor table register from the 10-byte pseudo
// descriptor at ptr.
func LoadGDT(ptr uintptr)

// LoadIDT loads the interrupt descriptor table register from the 10-byte
// pseudo descriptor at ptr.
func LoadIDT(ptr uintptr)

// LoadTR loads the task register with a TSS selector.
func LoadTR(sel uint16)

// IRQStubPC returns the entry of the stub installed for PIC vectors. It
// acknowledges both controllers and returns from the interrupt.
func IRQStubPC() uintptr

// TimerStubPC returns the entry of the stub installed for the timer vector.
// It counts the tick and acknowledges the master controller.
func TimerStubPC() uintptr

// ticks is incremented by timerStub.
var ticks uint64

// Ticks returns the number of timer interrupts taken so far.
func Ticks() uint64 { return atomic.LoadUint64(&ticks) }

// FaultStubPC returns the entry of the stub installed for CPU exceptions. It
// disables interrupts and halts for good.
func FaultStubPC() uintptr

// X86 is the boot processor.
type X86 struct{}

func (X86) EnableInterrupts()       { EnableInterrupts() }
func (X86) DisableInterrupts()      { DisableInterrupts() }
func (X86) InterruptsEnabled() bool { return Flags()&flagIF != 0 }
func (X86) Halt()                   { Halt() }

// Ports is the I/O port space.
type Ports struct{}

func (Ports) In8(port uint16) uint8       { return Inb(port) }
func (Ports) Out8(port uint16, v uint8)   { Outb(port, v) }
func (Ports) Out32(port uint16, v uint32) { Outl(port, v) }

// Loader loads descriptor tables into the processor.
type Loader struct{}

func (Loader) LoadGDT(ptr uintptr) { LoadGDT(ptr) }
func (Loader) LoadIDT(ptr uintptr) { LoadIDT(ptr) }
func (Loader) LoadTR(sel uint16)   { LoadTR(sel) }
