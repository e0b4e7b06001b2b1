//go:build linux && amd64

package machine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sys/unix"
)

const (
	archSetFS = 0x1002
	archGetFS = 0x1003

	futexWait    = 0
	futexWake    = 1
	futexCmdMask = 0x7f

	atNull   = 0
	atPageSz = 6
	atRandom = 25

	maxTransfer = 1 << 20

	// stackFloor is the lowest address the initial stack may use.
	stackFloor = PageTableBase + pageTableSize
)

// LinuxABI services the system calls of a statically linked linux/amd64
// program running in ring 0. It covers what the Go runtime needs to start
// and run on one thread: memory, time, the thread pointer and console
// writes. Threads it creates never run.
type LinuxABI struct {
	Space *AddressSpace
	Out   io.Writer

	fsBase  uint64
	fsDirty bool
	start   time.Time
	tid     uint64
}

// NewLinuxABI returns a shim allocating from space and writing the
// program's stdout and stderr to out.
func NewLinuxABI(space *AddressSpace, out io.Writer) *LinuxABI {
	if out == nil {
		out = io.Discard
	}
	return &LinuxABI{Space: space, Out: out, start: time.Now(), tid: 1}
}

func errno(e unix.Errno) uint64 { return uint64(-int64(e)) }

// FSBase returns the thread pointer set through arch_prctl and whether it
// changed since the previous call.
func (l *LinuxABI) FSBase() (uint64, bool) {
	dirty := l.fsDirty
	l.fsDirty = false
	return l.fsBase, dirty
}

// Syscall performs call nr and returns the value for rax. A non-nil error
// ends the run.
func (l *LinuxABI) Syscall(nr uint64, a [6]uint64) (uint64, error) {
	switch nr {
	case unix.SYS_WRITE:
		return l.write(a[0], a[1], a[2]), nil
	case unix.SYS_READ:
		return errno(unix.EBADF), nil
	case unix.SYS_OPEN, unix.SYS_OPENAT:
		return errno(unix.ENOENT), nil
	case unix.SYS_CLOSE:
		return 0, nil
	case unix.SYS_MMAP:
		return l.mmap(a[0], a[1], a[2], a[3]), nil
	case unix.SYS_MUNMAP:
		return 0, nil
	case unix.SYS_MPROTECT:
		if a[2] != unix.PROT_NONE && l.Space.Commit(a[0], a[1]) != nil {
			return errno(unix.ENOMEM), nil
		}
		return 0, nil
	case unix.SYS_MADVISE:
		if a[2] == unix.MADV_DONTNEED {
			l.Space.Zero(a[0], a[1])
		}
		return 0, nil
	case unix.SYS_RT_SIGACTION, unix.SYS_RT_SIGPROCMASK, unix.SYS_SIGALTSTACK,
		unix.SYS_SCHED_YIELD, unix.SYS_NANOSLEEP, unix.SYS_KILL, unix.SYS_TGKILL:
		return 0, nil
	case unix.SYS_GETPID, unix.SYS_GETTID:
		return 1, nil
	case unix.SYS_CLONE:
		l.tid++
		if debug {
			log.Printf("linux: thread %d is never scheduled", l.tid)
		}
		return l.tid, nil
	case unix.SYS_ARCH_PRCTL:
		return l.archPrctl(a[0], a[1]), nil
	case unix.SYS_FUTEX:
		return l.futex(a[0], a[1], a[2], a[3])
	case unix.SYS_CLOCK_GETTIME:
		return l.clockGettime(a[0], a[1]), nil
	case unix.SYS_GETRANDOM:
		return l.getrandom(a[0], a[1]), nil
	case unix.SYS_EXIT, unix.SYS_EXIT_GROUP:
		return 0, fmt.Errorf("%w: status %d", ErrGuestExitCall, int32(a[0]))
	}
	if debug {
		log.Printf("linux: syscall %d not supported", nr)
	}
	return errno(unix.ENOSYS), nil
}

func (l *LinuxABI) write(fd, buf, n uint64) uint64 {
	if fd != 1 && fd != 2 {
		return errno(unix.EBADF)
	}
	p := make([]byte, min(n, maxTransfer))
	if err := l.Space.Load(p, buf); err != nil {
		return errno(unix.EFAULT)
	}
	if _, err := l.Out.Write(p); err != nil {
		return errno(unix.EIO)
	}
	return uint64(len(p))
}

// mmap supports anonymous mappings only. The file descriptor is ignored:
// the runtime passes -1 as a 32-bit value.
func (l *LinuxABI) mmap(addr, length, prot, flags uint64) uint64 {
	if flags&unix.MAP_ANONYMOUS == 0 {
		return errno(unix.ENODEV)
	}
	if length == 0 {
		return errno(unix.EINVAL)
	}
	v := addr
	if flags&unix.MAP_FIXED != 0 {
		l.Space.Claim(addr, length)
	} else {
		r, err := l.Space.Reserve(addr, length)
		if err != nil {
			return errno(unix.ENOMEM)
		}
		v = r
	}
	if prot == unix.PROT_NONE {
		return v
	}
	if err := l.Space.Commit(v, length); err != nil {
		if debug {
			log.Printf("linux: mmap %#x+%#x: %v", v, length, err)
		}
		return errno(unix.ENOMEM)
	}
	if flags&unix.MAP_FIXED != 0 {
		l.Space.Zero(v, length)
	}
	return v
}

func (l *LinuxABI) archPrctl(code, addr uint64) uint64 {
	switch code {
	case archSetFS:
		l.fsBase, l.fsDirty = addr, true
		return 0
	case archGetFS:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], l.fsBase)
		if l.Space.Store(b[:], addr) != nil {
			return errno(unix.EFAULT)
		}
		return 0
	}
	return errno(unix.EINVAL)
}

// futex runs on a single thread: a wait that would block can never be
// woken and ends the run.
func (l *LinuxABI) futex(addr, op, val, timeout uint64) (uint64, error) {
	switch op & futexCmdMask {
	case futexWait:
		var b [4]byte
		if l.Space.Load(b[:], addr) != nil {
			return errno(unix.EFAULT), nil
		}
		if binary.LittleEndian.Uint32(b[:]) != uint32(val) {
			return errno(unix.EAGAIN), nil
		}
		if timeout != 0 {
			return errno(unix.ETIMEDOUT), nil
		}
		return 0, fmt.Errorf("%w at %#x", ErrGuestBlocked, addr)
	case futexWake:
		return 0, nil
	}
	return errno(unix.ENOSYS), nil
}

func (l *LinuxABI) clockGettime(clock, tp uint64) uint64 {
	var d time.Duration
	if clock == unix.CLOCK_REALTIME {
		d = time.Duration(time.Now().UnixNano())
	} else {
		// the monotonic clock never reads zero
		d = time.Since(l.start) + time.Second
	}
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:], uint64(d/time.Second))
	binary.LittleEndian.PutUint64(b[8:], uint64(d%time.Second))
	if l.Space.Store(b[:], tp) != nil {
		return errno(unix.EFAULT)
	}
	return 0
}

func (l *LinuxABI) getrandom(buf, n uint64) uint64 {
	p := make([]byte, min(n, maxTransfer))
	if _, err := rand.Read(p); err != nil {
		return errno(unix.EIO)
	}
	if l.Space.Store(p, buf) != nil {
		return errno(unix.EFAULT)
	}
	return uint64(len(p))
}

// ProcessStack lays out argc, argv, an empty environment and the auxiliary
// vector below top the way Linux does for a new process. It returns the
// initial stack pointer.
func ProcessStack(mem []byte, top uint64, args []string, random []byte) (uint64, error) {
	if top > uint64(len(mem)) || top <= stackFloor {
		return 0, fmt.Errorf("%w: stack top %#x", ErrBadMapping, top)
	}
	size := len(random)
	for _, a := range args {
		size += len(a) + 1
	}
	words := 1 + len(args) + 1 + 1 + 6
	if uint64(size+words*8+16) > top-stackFloor {
		return 0, fmt.Errorf("%w: %d bytes of arguments", ErrBadMapping, size)
	}

	sp := top
	put := func(b []byte) uint64 {
		sp -= uint64(len(b))
		copy(mem[sp:], b)
		return sp
	}
	rnd := put(random)
	argv := make([]uint64, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		put([]byte{0})
		argv[i] = put([]byte(args[i]))
	}

	sp = (sp - uint64(words*8)) &^ 15
	w := sp
	word := func(v uint64) {
		binary.LittleEndian.PutUint64(mem[w:], v)
		w += 8
	}
	word(uint64(len(args)))
	for _, p := range argv {
		word(p)
	}
	word(0)
	word(0)
	word(atPageSz)
	word(pageSize)
	word(atRandom)
	word(rnd)
	word(atNull)
	word(0)
	return sp, nil
}
