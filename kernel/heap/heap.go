// Package heap provides the kernel's bump allocator.
package heap

import (
	"errors"

	"github.com/set-io/kboot/kernel"
)

var (
	ErrOutOfMemory = errors.New("heap: out of memory")
	ErrBadLayout   = errors.New("heap: alignment is not a power of two")
)

// Bump hands out memory from a fixed region by advancing a cursor. Memory
// is reclaimed only when every allocation has been released.
type Bump struct {
	start, end uintptr
	next       uintptr
	live       int
	onFail     func(kernel.Layout)
}

// NewBump returns an allocator over [start, start+size).
func NewBump(start, size uintptr) *Bump {
	return &Bump{start: start, end: start + size, next: start, onFail: kernel.OnAllocError}
}

// OnFailure replaces the hook Alloc calls when a request cannot be met.
// The hook must not return.
func (b *Bump) OnFailure(fn func(kernel.Layout)) { b.onFail = fn }

// TryAlloc reserves memory for l.
func (b *Bump) TryAlloc(l kernel.Layout) (uintptr, error) {
	if l.Align == 0 || l.Align&(l.Align-1) != 0 {
		return 0, ErrBadLayout
	}
	addr := alignUp(b.next, l.Align)
	if addr < b.next || addr > b.end || l.Size > b.end-addr {
		return 0, ErrOutOfMemory
	}
	b.next = addr + l.Size
	b.live++
	return addr, nil
}

// Alloc is TryAlloc with failures routed to the failure hook.
func (b *Bump) Alloc(l kernel.Layout) uintptr {
	addr, err := b.TryAlloc(l)
	if err != nil {
		b.onFail(l)
		panic("heap: allocation failure hook returned")
	}
	return addr
}

// Dealloc releases one allocation.
func (b *Bump) Dealloc(uintptr) {
	if b.live == 0 {
		return
	}
	b.live--
	if b.live == 0 {
		b.next = b.start
	}
}

// Used returns the bytes between the start of the region and the cursor.
func (b *Bump) Used() uintptr { return b.next - b.start }

// Size returns the size of the region.
func (b *Bump) Size() uintptr { return b.end - b.start }

// Allocations returns the number of live allocations.
func (b *Bump) Allocations() int { return b.live }

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}
