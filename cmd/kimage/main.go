//go:build amd64

// Command kimage is the kernel image kboot boots on its kvm backend. Build
// it as a static linux/amd64 program:
//
//	CGO_ENABLED=0 GOOS=linux GOARCH=amd64 go build ./cmd/kimage
//
// The backend runs it in ring 0 behind a Linux process interface, so the
// Go runtime starts as usual and main owns the machine. Run on a real
// Linux host it faults on the first privileged instruction, and QEMU
// cannot boot it; kboot refuses such an image with the qemu backend.
//
// The image runs the self-test suite unless it was linked with
//
//	-ldflags "-X main.mode=normal"
package main

import (
	"unsafe"

	"github.com/set-io/kboot/kernel"
	"github.com/set-io/kboot/kernel/boot"
	"github.com/set-io/kboot/kernel/cpu"
	"github.com/set-io/kboot/kernel/gdt"
	"github.com/set-io/kboot/kernel/idt"
	"github.com/set-io/kboot/kernel/pic"
	"github.com/set-io/kboot/kernel/selftest"
)

var mode = "test"

var heapArena [boot.DefaultHeapSize]byte

// vectors ignores the Go handler: the assembly stubs acknowledge the PICs
// and count timer ticks themselves.
func vectors(kernel.IRQHandler) kernel.InterruptVectors {
	return idt.Standard(cpu.Loader{}, idt.Stubs{
		Fault: cpu.FaultStubPC(),
		Timer: cpu.TimerStubPC(),
		IRQ:   cpu.IRQStubPC(),
	}, pic.PIC1Offset)
}

func main() {
	board := &boot.Board{
		CPU:       cpu.X86{},
		Port:      cpu.Ports{},
		Tables:    gdt.New(cpu.Loader{}, gdt.NewTSS()),
		Vectors:   vectors,
		HeapStart: uintptr(unsafe.Pointer(&heapArena[0])),
		HeapSize:  uintptr(len(heapArena)),
		Ticks:     cpu.Ticks,
	}

	if mode == "normal" {
		sys := boot.New(board, kernel.Normal)
		sys.Kernel.Main(func() {
			_, _ = sys.Serial.WriteString("Hello World!\n")
		})
		return
	}

	sys := boot.New(board, kernel.Test)
	sys.Kernel.TestMain(selftest.Suite(sys, selftest.Options{Timer: true}))
}
