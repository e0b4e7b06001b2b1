package kernel

import "strconv"

// Layout is the size and alignment of a heap request.
type Layout struct {
	Size  uintptr
	Align uintptr
}

func (l Layout) String() string {
	return "Layout { size: " + strconv.FormatUint(uint64(l.Size), 10) +
		", align: " + strconv.FormatUint(uint64(l.Align), 10) + " }"
}

// AllocError is the panic value raised when the heap cannot satisfy a
// request.
type AllocError struct {
	Layout Layout
}

func (e *AllocError) Error() string {
	return "allocation error: " + e.Layout.String()
}

// allocFailure is the value OnAllocError panics with. It is static so that
// reporting an exhausted heap needs no heap.
var allocFailure AllocError

// OnAllocError is the allocator's out-of-memory callback. Allocation failure
// is not recoverable at this layer: it always panics.
func OnAllocError(l Layout) {
	allocFailure.Layout = l
	panic(&allocFailure)
}
