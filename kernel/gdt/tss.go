package gdt

import (
	"encoding/binary"
	"unsafe"
)

// TSSSize is the size of a 64-bit task state segment.
const TSSSize = 104

// DoubleFaultIST is the interrupt stack table slot used by the double fault
// gate. Gate encodings count slots from 1.
const DoubleFaultIST = 0

// StackSize is the size of each interrupt stack.
const StackSize = 20 * 1024

const istOffset = 36

// TSS is a 64-bit task state segment in its hardware layout.
type TSS struct {
	raw   [TSSSize]byte
	stack [StackSize]byte
}

// NewTSS returns a TSS whose double fault slot points at a dedicated stack.
func NewTSS() *TSS {
	t := &TSS{}
	top := uintptr(unsafe.Pointer(&t.stack[0])) + StackSize
	t.SetIST(DoubleFaultIST, uint64(top))
	binary.LittleEndian.PutUint16(t.raw[102:], TSSSize)
	return t
}

// SetIST stores the stack top for slot i, 0 through 6.
func (t *TSS) SetIST(i int, top uint64) {
	binary.LittleEndian.PutUint64(t.raw[istOffset+8*i:], top)
}

// IST returns the stack top stored in slot i.
func (t *TSS) IST(i int) uint64 {
	return binary.LittleEndian.Uint64(t.raw[istOffset+8*i:])
}

// Addr returns the linear address of the segment.
func (t *TSS) Addr() uint64 { return uint64(uintptr(unsafe.Pointer(&t.raw[0]))) }
