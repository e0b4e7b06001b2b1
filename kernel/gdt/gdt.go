// Package gdt builds the global descriptor table and task state segment.
package gdt

import (
	"encoding/binary"
	"unsafe"
)

// Segment selectors of the table built by New.
const (
	KernelCodeSelector uint16 = 1 << 3
	KernelDataSelector uint16 = 2 << 3
	TSSSelector        uint16 = 3 << 3
)

// Descriptor flag words for Entry.
const (
	FlagsCode64 uint16 = 0xA09A // G, L, present, DPL 0, code exec/read
	FlagsData   uint16 = 0xC092 // G, D/B, present, DPL 0, data read/write
	FlagsTSS    uint16 = 0x0089 // present, 64-bit available TSS
)

var (
	KernelCode = Entry(FlagsCode64, 0, 0xFFFFF)
	KernelData = Entry(FlagsData, 0, 0xFFFFF)
)

// Entry encodes a segment descriptor.
func Entry(flags uint16, base uint32, limit uint32) uint64 {
	return (uint64(base)&0xFF000000)<<(56-24) |
		(uint64(flags)&0x0000F0FF)<<40 |
		(uint64(limit)&0x000F0000)<<(48-16) |
		(uint64(base)&0x00FFFFFF)<<16 |
		(uint64(limit) & 0x0000FFFF)
}

// SystemEntry encodes the two descriptor slots of a 64-bit system segment.
func SystemEntry(flags uint16, base uint64, limit uint32) (low, high uint64) {
	return Entry(flags, uint32(base), limit), base >> 32
}

// Loader is the processor side of Table.Load.
type Loader interface {
	LoadGDT(ptr uintptr)
	LoadTR(sel uint16)
}

// Table is a GDT with a kernel code segment, a kernel data segment and one
// TSS. The code selector matches the one the boot loader hands over, so CS
// is not reloaded.
type Table struct {
	entries [5]uint64
	pseudo  [10]byte
	tss     *TSS
	ld      Loader
}

// New returns a table referencing tss.
func New(ld Loader, tss *TSS) *Table {
	t := &Table{ld: ld, tss: tss}
	t.entries[1] = KernelCode
	t.entries[2] = KernelData
	t.entries[3], t.entries[4] = SystemEntry(FlagsTSS, tss.Addr(), TSSSize-1)
	return t
}

// Entries returns the raw descriptors.
func (t *Table) Entries() []uint64 { return t.entries[:] }

// TSS returns the task state segment the table references.
func (t *Table) TSS() *TSS { return t.tss }

// Load loads the table register and then the task register.
func (t *Table) Load() {
	binary.LittleEndian.PutUint16(t.pseudo[0:], uint16(len(t.entries)*8-1))
	binary.LittleEndian.PutUint64(t.pseudo[2:], uint64(uintptr(unsafe.Pointer(&t.entries[0]))))
	t.ld.LoadGDT(uintptr(unsafe.Pointer(&t.pseudo[0])))
	t.ld.LoadTR(TSSSelector)
}

// Segment is a decoded descriptor.
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Type     uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
}

// Decode unpacks the descriptor found at index of a table.
func Decode(entry uint64, index uint8) Segment {
	var unusable uint8
	if getP(entry) == 0 {
		unusable = 1
	}
	return Segment{
		Base:     getBase(entry),
		Limit:    getLimit(entry),
		Selector: uint16(index) * 8,
		Type:     getType(entry),
		Present:  getP(entry),
		DPL:      getDPL(entry),
		DB:       getDB(entry),
		S:        getS(entry),
		L:        getL(entry),
		G:        getG(entry),
		AVL:      getAVL(entry),
		Unusable: unusable,
	}
}

func getBase(entry uint64) uint64 {
	return ((entry & 0xFF00000000000000) >> 32) | ((entry & 0x000000FF00000000) >> 16) | (entry&0x00000000FFFF0000)>>16
}

func getG(entry uint64) uint8   { return uint8((entry & 0x0080000000000000) >> 55) }
func getDB(entry uint64) uint8  { return uint8((entry & 0x0040000000000000) >> 54) }
func getL(entry uint64) uint8   { return uint8((entry & 0x0020000000000000) >> 53) }
func getAVL(entry uint64) uint8 { return uint8((entry & 0x0010000000000000) >> 52) }
func getP(entry uint64) uint8   { return uint8((entry & 0x0000800000000000) >> 47) }
func getDPL(entry uint64) uint8 { return uint8((entry & 0x0000600000000000) >> 45) }
func getS(entry uint64) uint8   { return uint8((entry & 0x0000100000000000) >> 44) }
func getType(entry uint64) uint8 {
	return uint8((entry & 0x00000F0000000000) >> 40)
}

// getLimit returns the limit in bytes, scaling page-granular limits.
func getLimit(entry uint64) uint32 {
	l := uint32(((entry & 0x000F000000000000) >> 32) | (entry & 0x000000000000FFFF))
	if getG(entry) == 0 {
		return l
	}
	return (l << 12) | 0xFFF
}
