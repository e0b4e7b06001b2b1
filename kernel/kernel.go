package kernel

import "sync/atomic"

// Mode selects how a panic is reported.
type Mode int

const (
	// Normal kernels print the failure banner and halt.
	Normal Mode = iota

	// Test kernels also signal Failed on ExitPort before halting.
	Test
)

func (m Mode) String() string {
	if m == Test {
		return "test"
	}
	return "normal"
}

// Kernel ties the collaborators together. A Kernel is built once per boot
// and never copied.
type Kernel struct {
	CPU     CPU
	Port    Port
	Console Console

	Tables  DescriptorTables
	Vectors InterruptVectors
	PICs    *Guarded[InterruptController]

	Mode Mode

	initialized atomic.Bool
}

// Init hands control from the raw CPU to an interrupt-enabled kernel. The
// steps run in a fixed order and interrupts are enabled only once the
// descriptor tables, the vectors and the interrupt controller are all in
// place. Init must be called exactly once; a failing step panics.
func (k *Kernel) Init() {
	if !k.initialized.CompareAndSwap(false, true) {
		panic("kernel: Init called twice")
	}

	k.Tables.Load()
	k.Vectors.Load()
	k.PICs.With(k.CPU, func(c InterruptController) {
		c.Initialize()
	})
	k.CPU.EnableInterrupts()
}

// Initialized reports whether Init has run.
func (k *Kernel) Initialized() bool {
	return k.initialized.Load()
}

// HltLoop idles the CPU forever. An interrupt wakes the core, its handler
// runs and the loop goes straight back to waiting.
func (k *Kernel) HltLoop() {
	for {
		k.CPU.Halt()
	}
}

// Main runs fn as the body of a normal boot: Init, fn, then idle. A panic
// anywhere in fn is reported through Panic.
func (k *Kernel) Main(fn func()) {
	defer k.Recover()

	k.Init()
	if fn != nil {
		fn()
	}
	k.HltLoop()
}
