package machine

import (
	"errors"
)

var (
	ErrZeroSizeKernel       = errors.New("kernel is 0 bytes")
	ErrMemTooSmall          = errors.New("mem request must be at least 1<<20")
	ErrNotELF64File         = errors.New("file is not ELF64")
	ErrNotAMD64             = errors.New("ELF file is not for x86_64")
	ErrSegmentOutOfMemory   = errors.New("ELF segment does not fit guest memory")
	ErrDataLenInvalid       = errors.New("invalid data size on port")
	ErrWriteToCF9           = errors.New("power cycle via 0xcf9")
	ErrUnhandledPort        = errors.New("unhandled io port")
	ErrUnexpectedExitReason = errors.New("unexpected kvm exit reason")
	ErrUnhandledVector      = errors.New("interrupt on vector with no handler")
	ErrTimeout              = errors.New("guest did not stop in time")
	ErrGuestReturned        = errors.New("guest entry returned")
	ErrGuestPanic           = errors.New("guest panicked")
	ErrAlreadyRunning       = errors.New("machine is already running")
	ErrUnsupported          = errors.New("unsupported")
	ErrBadMapping           = errors.New("invalid guest mapping")
	ErrBadAddress           = errors.New("guest address is not mapped")
	ErrAddressSpaceFull     = errors.New("guest address space exhausted")
	ErrGuestOutOfMemory     = errors.New("guest RAM exhausted")
	ErrSegmentInBootArea    = errors.New("ELF segment overlaps the boot area")
	ErrGuestExitCall        = errors.New("guest called exit")
	ErrGuestBlocked         = errors.New("guest waits on a futex nothing can wake")
)
