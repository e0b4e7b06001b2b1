// Package idt builds the interrupt descriptor table.
package idt

import (
	"encoding/binary"
	"unsafe"

	"github.com/set-io/kboot/kernel/gdt"
)

const (
	// Vectors is the number of gates in the table.
	Vectors = 256

	// DoubleFault is the exception vector run on its own stack.
	DoubleFault = 8

	// AttrInterrupt marks a present ring 0 interrupt gate.
	AttrInterrupt uint8 = 0x8E
)

// Loader is the processor side of Table.Load.
type Loader interface {
	LoadIDT(ptr uintptr)
}

// Stubs are the entry points installed by Standard.
type Stubs struct {
	Fault uintptr
	Timer uintptr
	IRQ   uintptr
}

// Gate is a decoded interrupt gate.
type Gate struct {
	Offset   uint64
	Selector uint16
	IST      uint8
	Attr     uint8
}

// Table holds 16-byte gates in hardware layout.
type Table struct {
	gates  [Vectors * 16]byte
	pseudo [10]byte
	ld     Loader
}

// New returns an empty table.
func New(ld Loader) *Table {
	return &Table{ld: ld}
}

// Standard returns a table with the exception vectors on the fault stub,
// the first PIC line on the timer stub and the remaining PIC lines on the
// IRQ stub. Double faults switch to the TSS stack.
func Standard(ld Loader, stubs Stubs, irqBase uint8) *Table {
	t := New(ld)
	for v := 0; v < 32; v++ {
		ist := uint8(0)
		if v == DoubleFault {
			ist = gdt.DoubleFaultIST + 1
		}
		t.Set(uint8(v), stubs.Fault, ist)
	}
	t.Set(irqBase, stubs.Timer, 0)
	for v := int(irqBase) + 1; v < int(irqBase)+16; v++ {
		t.Set(uint8(v), stubs.IRQ, 0)
	}
	return t
}

// Set installs an interrupt gate for vector. ist selects a TSS stack slot
// counting from 1; 0 keeps the current stack.
func (t *Table) Set(vector uint8, handler uintptr, ist uint8) {
	g := t.gates[int(vector)*16:]
	off := uint64(handler)
	binary.LittleEndian.PutUint16(g[0:], uint16(off))
	binary.LittleEndian.PutUint16(g[2:], gdt.KernelCodeSelector)
	g[4] = ist & 0x7
	g[5] = AttrInterrupt
	binary.LittleEndian.PutUint16(g[6:], uint16(off>>16))
	binary.LittleEndian.PutUint32(g[8:], uint32(off>>32))
	binary.LittleEndian.PutUint32(g[12:], 0)
}

// Gate decodes the gate for vector.
func (t *Table) Gate(vector uint8) Gate {
	g := t.gates[int(vector)*16:]
	return Gate{
		Offset: uint64(binary.LittleEndian.Uint16(g[0:])) |
			uint64(binary.LittleEndian.Uint16(g[6:]))<<16 |
			uint64(binary.LittleEndian.Uint32(g[8:]))<<32,
		Selector: binary.LittleEndian.Uint16(g[2:]),
		IST:      g[4] & 0x7,
		Attr:     g[5],
	}
}

// Present reports whether vector has a gate installed.
func (t *Table) Present(vector uint8) bool {
	return t.Gate(vector).Attr&0x80 != 0
}

// Load loads the interrupt descriptor table register.
func (t *Table) Load() {
	binary.LittleEndian.PutUint16(t.pseudo[0:], uint16(len(t.gates)-1))
	binary.LittleEndian.PutUint64(t.pseudo[2:], uint64(uintptr(unsafe.Pointer(&t.gates[0]))))
	t.ld.LoadIDT(uintptr(unsafe.Pointer(&t.pseudo[0])))
}
