// Package boot assembles a kernel from the hardware a board provides.
package boot

import (
	"sync/atomic"

	"github.com/set-io/kboot/kernel"
	"github.com/set-io/kboot/kernel/heap"
	"github.com/set-io/kboot/kernel/pic"
	"github.com/set-io/kboot/kernel/serial"
)

// Heap region used when a board does not provide one.
const (
	DefaultHeapStart uintptr = 0x4444_4444_0000
	DefaultHeapSize  uintptr = 100 * 1024
)

// Board is the hardware a kernel boots on.
type Board struct {
	CPU    kernel.CPU
	Port   kernel.Port
	Tables kernel.DescriptorTables

	// Vectors builds the interrupt vector table that dispatches to handler.
	Vectors func(handler kernel.IRQHandler) kernel.InterruptVectors

	HeapStart uintptr
	HeapSize  uintptr

	// Ticks reports timer interrupts counted outside the IRQ handler, for
	// boards whose timer stub never reaches Go code. Optional.
	Ticks func() uint64
}

// System is a kernel together with the devices it was built from.
type System struct {
	Kernel *kernel.Kernel
	Serial *serial.Port
	PIC    *pic.Chained
	Heap   *heap.Bump

	board *Board
	ticks atomic.Uint64
}

// New builds a kernel for b. The console is initialized immediately so a
// failure during Init can be reported; everything else waits for Init.
func New(b *Board, mode kernel.Mode) *System {
	s := &System{board: b}

	s.Serial = serial.COM1(b.Port)
	s.Serial.Init()

	s.PIC = pic.Default(b.Port)

	start, size := b.HeapStart, b.HeapSize
	if size == 0 {
		start, size = DefaultHeapStart, DefaultHeapSize
	}
	s.Heap = heap.NewBump(start, size)

	s.Kernel = &kernel.Kernel{
		CPU:     b.CPU,
		Port:    b.Port,
		Console: s.Serial,
		Tables:  b.Tables,
		Vectors: b.Vectors(s.handleIRQ),
		PICs:    kernel.NewGuarded[kernel.InterruptController](s.PIC),
		Mode:    mode,
	}
	return s
}

type eoiNotifier interface {
	NotifyEndOfInterrupt(id uint8)
}

// handleIRQ runs in interrupt context for every PIC vector.
func (s *System) handleIRQ(vector uint8) {
	if vector == pic.Timer {
		s.ticks.Add(1)
	}
	s.Kernel.PICs.With(s.Kernel.CPU, func(c kernel.InterruptController) {
		if n, ok := c.(eoiNotifier); ok {
			n.NotifyEndOfInterrupt(vector)
		}
	})
}

// Ticks returns the number of timer interrupts taken.
func (s *System) Ticks() uint64 {
	if s.board.Ticks != nil {
		return s.board.Ticks()
	}
	return s.ticks.Load()
}
