//go:build linux && amd64

package machine

import (
	"context"
	"crypto/rand"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/sys/unix"

	"github.com/set-io/kboot/kernel/gdt"
)

const (
	kvmCreateVM            = 0x01
	kvmGetVCPUMMapSize     = 0x04
	kvmCreateVCPU          = 0x41
	kvmSetUserMemoryRegion = 0x46
	kvmSetTSSAddr          = 0x47
	kvmRun                 = 0x80
	kvmGetRegs             = 0x81
	kvmSetRegs             = 0x82
	kvmGetSregs            = 0x83
	kvmSetSregs            = 0x84
	kvmInterrupt           = 0x86
	kvmSetMSRs             = 0x89

	kvmTSSAddr = 0xfffb_d000
)

const (
	nrbits   = 8
	typebits = 8
	sizebits = 14
	dirbits  = 2

	nrmask   = (1 << nrbits) - 1
	sizemask = (1 << sizebits) - 1
	dirmask  = (1 << dirbits) - 1

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	nrshift   = 0
	typeshift = nrshift + nrbits
	sizeshift = typeshift + typebits
	dirshift  = sizeshift + sizebits

	kvmio = 0xAE
)

func iioc(dir, nr, size uintptr) uintptr {
	return ((dir & dirmask) << dirshift) | (kvmio << typeshift) |
		((nr & nrmask) << nrshift) | ((size & sizemask) << sizeshift)
}

func iio(nr uintptr) uintptr        { return iioc(iocNone, nr, 0) }
func iior(nr, size uintptr) uintptr { return iioc(iocRead, nr, size) }
func iiow(nr, size uintptr) uintptr { return iioc(iocWrite, nr, size) }

func ioctl(fd int, op, arg uintptr) (uintptr, error) {
	res, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), op, arg)
	if errno != 0 {
		return res, errno
	}
	return res, nil
}

type runData struct {
	RequestInterruptWindow     uint8
	ImmediateExit              uint8
	_                          [6]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	_                          [2]uint8
	CR8                        uint64
	ApicBase                   uint64
	Data                       [32]uint64
}

// io decodes the kvm_run io exit union.
func (r *runData) io() (direction, size, port, count, offset uint64) {
	direction = r.Data[0] & 0xFF
	size = (r.Data[0] >> 8) & 0xFF
	port = (r.Data[0] >> 16) & 0xFFFF
	count = (r.Data[0] >> 32) & 0xFFFFFFFF
	offset = r.Data[1]
	return
}

type regs struct {
	RAX, RBX, RCX, RDX, RSI, RDI, RSP, RBP uint64
	R8, R9, R10, R11, R12, R13, R14, R15   uint64
	RIP, RFLAGS                            uint64
}

type segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Typ      uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8
}

type descriptor struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

type sregs struct {
	CS, DS, ES, FS, GS, SS, TR, LDT segment
	GDT, IDT                        descriptor
	CR0, CR2, CR3, CR4, CR8         uint64
	EFER                            uint64
	ApicBase                        uint64
	InterruptBitmap                 [4]uint64
}

type userspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

func fromGDT(s gdt.Segment) segment {
	return segment{
		Base:     s.Base,
		Limit:    s.Limit,
		Selector: s.Selector,
		Typ:      s.Type,
		Present:  s.Present,
		DPL:      s.DPL,
		DB:       s.DB,
		S:        s.S,
		L:        s.L,
		G:        s.G,
		AVL:      s.AVL,
		Unusable: s.Unusable,
	}
}

type msrEntry struct {
	Index uint32
	_     uint32
	Data  uint64
}

type msrList struct {
	N       uint32
	_       uint32
	Entries [3]msrEntry
}

// KVM boots a kernel image on one hardware-virtualized vCPU. Port I/O
// exits are serviced by the same device models Sim uses.
//
// The vCPU stays in ring 0 and enters the image the way Linux starts a
// static process: argc, argv and the auxiliary vector on the stack, with
// syscall routed through SyscallStub to a LinuxABI. A Go program linked
// for linux/amd64 therefore boots unchanged.
type KVM struct {
	Bus    *Bus
	Serial *Serial
	PIC    *PIC
	Post   *PostCode

	// Timer is how many timer interrupts a halted guest receives before
	// a halt ends the run.
	Timer int

	dev      *os.File
	vmFd     int
	vcpuFd   int
	mem      []byte
	runMap   []byte
	run      *runData
	entry    uint64
	imageEnd uint64
	args     []string
	out      io.Writer
	abi      *LinuxABI

	mu  sync.Mutex
	tid int
}

// NewKVM creates a virtual machine with memSize bytes of RAM whose COM1
// output goes to out.
func NewKVM(memSize int, out io.Writer) (*KVM, error) {
	if memSize < MinMemSize {
		return nil, fmt.Errorf("memory size %d: %w", memSize, ErrMemTooSmall)
	}
	if out == nil {
		out = io.Discard
	}
	dev, err := os.OpenFile("/dev/kvm", os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("kvm dev: %w", err)
	}
	k := &KVM{
		Bus:    NewBus(),
		Serial: NewSerial(out),
		PIC:    NewPIC(),
		Post:   &PostCode{},
		dev:    dev,
		vmFd:   -1,
		vcpuFd: -1,
		out:    out,
	}
	if err := k.init(memSize); err != nil {
		k.Close()
		return nil, err
	}
	k.PIC.Register(k.Bus)
	k.Bus.Attach(k.Serial)
	k.Bus.Attach(&DebugExit{})
	k.Bus.Attach(k.Post)
	k.Bus.Attach(&FWDebug{W: out})
	return k, nil
}

func (k *KVM) init(memSize int) error {
	vm, err := ioctl(int(k.dev.Fd()), iio(kvmCreateVM), 0)
	if err != nil {
		return fmt.Errorf("CreateVM: %w", err)
	}
	k.vmFd = int(vm)
	if _, err := ioctl(k.vmFd, iio(kvmSetTSSAddr), kvmTSSAddr); err != nil {
		return fmt.Errorf("SetTSSAddr: %w", err)
	}

	k.mem, err = unix.Mmap(-1, 0, memSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("guest memory: %w", err)
	}
	region := &userspaceMemoryRegion{
		Slot:          0,
		MemorySize:    uint64(memSize),
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&k.mem[0]))),
	}
	if _, err := ioctl(k.vmFd, iiow(kvmSetUserMemoryRegion, unsafe.Sizeof(*region)), uintptr(unsafe.Pointer(region))); err != nil {
		return fmt.Errorf("SetUserMemoryRegion: %w", err)
	}

	cpu, err := ioctl(k.vmFd, iio(kvmCreateVCPU), 0)
	if err != nil {
		return fmt.Errorf("CreateVCPU: %w", err)
	}
	k.vcpuFd = int(cpu)

	size, err := ioctl(int(k.dev.Fd()), iio(kvmGetVCPUMMapSize), 0)
	if err != nil {
		return fmt.Errorf("GetVCPUMMapSize: %w", err)
	}
	k.runMap, err = unix.Mmap(k.vcpuFd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("vcpu run area: %w", err)
	}
	k.run = (*runData)(unsafe.Pointer(&k.runMap[0]))
	if debug {
		log.Printf("kvm: %d bytes of guest memory, run area %d bytes", memSize, size)
	}
	return nil
}

// SetArgs sets the program arguments after argv[0]. They also form the
// boot command line. It takes effect on the next LoadELF.
func (k *KVM) SetArgs(args []string) { k.args = args }

// LoadELF copies the PT_LOAD segments of an x86_64 ELF image to their
// physical addresses and prepares the vCPU to enter it in long mode.
func (k *KVM) LoadELF(r io.ReaderAt) error {
	f, err := elf.NewFile(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotELF64File, err)
	}
	if f.Class != elf.ELFCLASS64 {
		return ErrNotELF64File
	}
	if f.Machine != elf.EM_X86_64 {
		return ErrNotAMD64
	}

	if err := checkSegments(f.Progs, uint64(len(k.mem))); err != nil {
		return err
	}
	loaded := 0
	k.imageEnd = HighMemBase
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		dst := k.mem[p.Paddr : p.Paddr+p.Memsz]
		n, err := p.ReadAt(dst[:p.Filesz], 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("segment at %#x: %w", p.Paddr, err)
		}
		clear(dst[n:])
		loaded += int(p.Filesz)
		k.imageEnd = max(k.imageEnd, p.Paddr+p.Memsz)
		if debug {
			log.Printf("kvm: loaded %#x bytes at %#x", p.Filesz, p.Paddr)
		}
	}
	if loaded == 0 {
		return ErrZeroSizeKernel
	}
	k.entry = f.Entry
	return k.setup()
}

func (k *KVM) setup() error {
	cmdline := strings.Join(k.args, " ")
	if len(cmdline) >= PageTableBase-CmdlineAddr {
		return fmt.Errorf("command line of %d bytes does not fit below the page tables", len(cmdline))
	}
	info := NewBootInfo(uint64(len(k.mem)), cmdline)
	b, err := info.Bytes()
	if err != nil {
		return err
	}
	copy(k.mem[BootInfoAddr:], b)
	copy(k.mem[CmdlineAddr:], cmdline)
	k.mem[CmdlineAddr+len(cmdline)] = 0

	table := BootGDT()
	for i, e := range table {
		binary.LittleEndian.PutUint64(k.mem[BootGDTStart+i*8:], e)
	}
	copy(k.mem[SyscallStubAddr:], SyscallStub)

	cr3, err := IdentityMap(k.mem, PageTableBase)
	if err != nil {
		return err
	}
	k.abi = NewLinuxABI(NewAddressSpace(k.mem, cr3, k.imageEnd), k.out)

	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return err
	}
	sp, err := ProcessStack(k.mem, BootStackTop, append([]string{"kimage"}, k.args...), random)
	if err != nil {
		return err
	}

	var s sregs
	if err := k.vcpuSregs(kvmGetSregs, &s); err != nil {
		return err
	}
	s.CR3 = cr3
	s.CR4 = CR4xPAE | CR4xOSFXSR | CR4xOSXMMEXCPT
	s.CR0 = CR0xPE | CR0xMP | CR0xET | CR0xNE | CR0xWP | CR0xAM | CR0xPG
	s.EFER = EFERxLME | EFERxLMA | EFERxSCE
	s.GDT = descriptor{Base: BootGDTStart, Limit: uint16(len(table)*8 - 1)}

	s.CS = fromGDT(gdt.Decode(gdt.KernelCode, 1))
	data := fromGDT(gdt.Decode(gdt.KernelData, 2))
	s.DS, s.ES, s.FS, s.GS, s.SS = data, data, data, data, data
	if err := k.vcpuSregs(kvmSetSregs, &s); err != nil {
		return err
	}

	msrs := msrList{N: 3, Entries: [3]msrEntry{
		{Index: MSRxSTAR, Data: uint64(gdt.KernelCodeSelector) << 32},
		{Index: MSRxLSTAR, Data: SyscallStubAddr},
		{Index: MSRxFMASK},
	}}
	n, err := ioctl(k.vcpuFd, iiow(kvmSetMSRs, 8), uintptr(unsafe.Pointer(&msrs)))
	if err != nil {
		return fmt.Errorf("SetMSRs: %w", err)
	}
	if n != uintptr(msrs.N) {
		return fmt.Errorf("SetMSRs: %d of %d registers set", n, msrs.N)
	}

	r := regs{
		RFLAGS: 2,
		RIP:    k.entry,
		RSP:    sp,
		RSI:    BootInfoAddr,
	}
	return k.vcpuRegs(kvmSetRegs, &r)
}

// checkSegments rejects loadable segments that leave guest RAM or overlap
// the boot structures below HighMemBase.
func checkSegments(progs []*elf.Prog, memSize uint64) error {
	for _, p := range progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz || p.Memsz > memSize || p.Paddr > memSize-p.Memsz {
			return fmt.Errorf("%w: segment at %#x size %#x", ErrSegmentOutOfMemory, p.Paddr, p.Memsz)
		}
		if p.Paddr < HighMemBase {
			return fmt.Errorf("%w: segment at %#x", ErrSegmentInBootArea, p.Paddr)
		}
	}
	return nil
}

func (k *KVM) vcpuRegs(op uintptr, r *regs) error {
	dir := iior
	if op == kvmSetRegs {
		dir = iiow
	}
	if _, err := ioctl(k.vcpuFd, dir(op, unsafe.Sizeof(*r)), uintptr(unsafe.Pointer(r))); err != nil {
		return fmt.Errorf("regs %#x: %w", op, err)
	}
	return nil
}

func (k *KVM) vcpuSregs(op uintptr, s *sregs) error {
	dir := iior
	if op == kvmSetSregs {
		dir = iiow
	}
	if _, err := ioctl(k.vcpuFd, dir(op, unsafe.Sizeof(*s)), uintptr(unsafe.Pointer(s))); err != nil {
		return fmt.Errorf("sregs %#x: %w", op, err)
	}
	return nil
}

// Run enters the guest and services its exits until it halts, writes the
// debug-exit device, shuts down or ctx expires.
func (k *KVM) Run(ctx context.Context) Result {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	k.mu.Lock()
	k.tid = unix.Gettid()
	k.mu.Unlock()

	stop := context.AfterFunc(ctx, k.kick)
	defer stop()

	for {
		if ctx.Err() != nil {
			return Result{Reason: EXITINTR, Err: fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())}
		}
		if _, err := ioctl(k.vcpuFd, iio(kvmRun), 0); err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return Result{Reason: EXITUNKNOWN, Err: fmt.Errorf("KVM_RUN: %w", err)}
		}

		exit := Exit(k.run.ExitReason)
		switch exit {
		case EXITHLT:
			woken, err := k.wake()
			if err != nil {
				return Result{Reason: exit, Err: err}
			}
			if !woken {
				return Result{Reason: exit, Halted: true}
			}
		case EXITIO:
			if r, done := k.portIO(); done {
				return r
			}
			if err := k.interrupt(); err != nil {
				return Result{Reason: exit, Err: err}
			}
		case EXITIRQWINDOWOPEN:
			if err := k.interrupt(); err != nil {
				return Result{Reason: exit, Err: err}
			}
		case EXITINTR, EXITUNKNOWN:
		default:
			return Result{Reason: exit, Err: k.unexpected(exit)}
		}
	}
}

// kick forces KVM_RUN back to user space.
func (k *KVM) kick() {
	k.run.ImmediateExit = 1
	k.mu.Lock()
	tid := k.tid
	k.mu.Unlock()
	if tid != 0 {
		_ = unix.Tgkill(unix.Getpid(), tid, unix.SIGURG)
	}
}

func (k *KVM) portIO() (Result, bool) {
	direction, size, port, count, offset := k.run.io()
	if port == SyscallPort && direction == EXITIOOUT {
		if err := k.syscall(); err != nil {
			return Result{Reason: EXITIO, Err: err}, true
		}
		return Result{}, false
	}
	f := k.Bus.Out
	if direction == EXITIOIN {
		f = k.Bus.In
	}
	for i := uint64(0); i < count; i++ {
		b := k.runMap[offset+i*size : offset+(i+1)*size]
		if err := f(port, b); err != nil {
			var ge *GuestExit
			if errors.As(err, &ge) {
				return Result{Reason: EXITIO, Exited: true, Value: ge.Value, Status: ge.Status}, true
			}
			return Result{Reason: EXITIO, Err: err}, true
		}
	}
	return Result{}, false
}

// syscall services the call SyscallStub trapped. The stub's out
// instruction is skipped when the vCPU resumes at the same rip.
func (k *KVM) syscall() error {
	var r regs
	if err := k.vcpuRegs(kvmGetRegs, &r); err != nil {
		return err
	}
	ret, err := k.abi.Syscall(r.RAX, [6]uint64{r.RDI, r.RSI, r.RDX, r.R10, r.R8, r.R9})
	if err != nil {
		return err
	}
	r.RAX = ret
	if err := k.vcpuRegs(kvmSetRegs, &r); err != nil {
		return err
	}

	fs, dirty := k.abi.FSBase()
	if !dirty {
		return nil
	}
	var s sregs
	if err := k.vcpuSregs(kvmGetSregs, &s); err != nil {
		return err
	}
	s.FS.Base = fs
	return k.vcpuSregs(kvmSetSregs, &s)
}

// wake gives a guest halted with interrupts enabled its next timer tick.
// It reports false when nothing can wake the guest.
func (k *KVM) wake() (bool, error) {
	if k.run.IfFlag == 0 {
		return false, nil
	}
	if !k.PIC.Pending() && k.Timer > 0 {
		k.Timer--
		k.PIC.Raise(0)
	}
	if !k.PIC.Pending() {
		return false, nil
	}
	return true, k.interrupt()
}

// interrupt injects the pending PIC vector, or asks for an exit once the
// guest can accept it.
func (k *KVM) interrupt() error {
	if !k.PIC.Pending() {
		k.run.RequestInterruptWindow = 0
		return nil
	}
	if k.run.ReadyForInterruptInjection == 0 {
		k.run.RequestInterruptWindow = 1
		return nil
	}
	vector, ok := k.PIC.Acknowledge()
	if !ok {
		return nil
	}
	irq := uint32(vector)
	if _, err := ioctl(k.vcpuFd, iiow(kvmInterrupt, unsafe.Sizeof(irq)), uintptr(unsafe.Pointer(&irq))); err != nil {
		return fmt.Errorf("Interrupt %d: %w", vector, err)
	}
	k.run.RequestInterruptWindow = 0
	if k.PIC.Pending() {
		k.run.RequestInterruptWindow = 1
	}
	return nil
}

// unexpected describes the instruction the vCPU stopped on.
func (k *KVM) unexpected(exit Exit) error {
	var r regs
	if err := k.vcpuRegs(kvmGetRegs, &r); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedExitReason, exit)
	}
	return fmt.Errorf("%w: %v at %#x: %s", ErrUnexpectedExitReason, exit, r.RIP, k.disasm(r.RIP))
}

func (k *KVM) disasm(pc uint64) string {
	if pc >= uint64(len(k.mem)) {
		return "pc outside guest memory"
	}
	end := min(pc+16, uint64(len(k.mem)))
	inst, err := x86asm.Decode(k.mem[pc:end], 64)
	if err != nil {
		return fmt.Sprintf("undecodable %#x", k.mem[pc:end])
	}
	return x86asm.GNUSyntax(inst, pc, nil)
}

// Close releases the vCPU, the VM and guest memory.
func (k *KVM) Close() error {
	if k.runMap != nil {
		_ = unix.Munmap(k.runMap)
		k.runMap, k.run = nil, nil
	}
	if k.vcpuFd >= 0 {
		_ = unix.Close(k.vcpuFd)
		k.vcpuFd = -1
	}
	if k.vmFd >= 0 {
		_ = unix.Close(k.vmFd)
		k.vmFd = -1
	}
	if k.mem != nil {
		_ = unix.Munmap(k.mem)
		k.mem = nil
	}
	return k.dev.Close()
}
