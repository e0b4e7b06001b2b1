package machine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"

	"github.com/set-io/kboot/kernel/gdt"
)

// Guest physical layout used by the KVM loader.
const (
	BootGDTStart    = 0x500
	SyscallStubAddr = 0x600
	BootInfoAddr    = 0x1_0000
	CmdlineAddr     = 0x2_0000
	PageTableBase   = 0x3_0000
	BootStackTop    = 0x8_0000
	HighMemBase     = 0x10_0000

	// MinMemSize leaves room for everything below HighMemBase.
	MinMemSize = 1 << 20

	pageTableSize = 0x6000
	hugePage      = 0x20_0000
	pageSize      = 0x1000

	// identityLimit is the end of the range IdentityMap covers.
	identityLimit = 1 << 32
)

// Control register bits for long mode.
const (
	CR0xPE = 1
	CR0xMP = 1 << 1
	CR0xET = 1 << 4
	CR0xNE = 1 << 5
	CR0xWP = 1 << 16
	CR0xAM = 1 << 18
	CR0xPG = 1 << 31

	CR4xPAE        = 1 << 5
	CR4xOSFXSR     = 1 << 9
	CR4xOSXMMEXCPT = 1 << 10

	EFERxSCE = 1
	EFERxLME = 1 << 8
	EFERxLMA = 1 << 10

	PDE64xPRESENT  = 1
	PDE64xRW       = 1 << 1
	PDE64xACCESSED = 1 << 5
	PDE64xDIRTY    = 1 << 6
	PDE64xPS       = 1 << 7

	pteAddrMask = 0x000f_ffff_ffff_f000
)

// Model specific registers used by syscall.
const (
	MSRxSTAR  = 0xc000_0081
	MSRxLSTAR = 0xc000_0082
	MSRxFMASK = 0xc000_0084
)

// SyscallPort is written by the syscall stub. The vCPU loop services the
// call found in the registers and lets the stub return.
const SyscallPort = 0xf0

// SyscallStub is the syscall entry point placed at SyscallStubAddr. The
// guest stays in ring 0, so the stub returns with a plain jump instead of
// sysretq.
var SyscallStub = []byte{
	0xe7, SyscallPort, // out 0xf0, eax
	0x41, 0x53,        // push r11
	0x9d,              // popfq
	0xff, 0xe1,        // jmp rcx
}

// BootInfoMagic is "KBOT" read as a little endian word.
const BootInfoMagic = 0x544f424b

// BootInfo is handed to the kernel in RSI.
type BootInfo struct {
	Magic      uint32 `struc:"uint32,little"`
	Version    uint16 `struc:"uint16,little"`
	Flags      uint16 `struc:"uint16,little"`
	MemorySize uint64 `struc:"uint64,little"`
	PageTable  uint64 `struc:"uint64,little"`
	StackTop   uint64 `struc:"uint64,little"`
	Cmdline    uint64 `struc:"uint64,little"`
	CmdlineLen uint32 `struc:"uint32,little"`
}

// NewBootInfo describes a guest with memSize bytes of RAM.
func NewBootInfo(memSize uint64, cmdline string) *BootInfo {
	return &BootInfo{
		Magic:      BootInfoMagic,
		Version:    1,
		MemorySize: memSize,
		PageTable:  PageTableBase,
		StackTop:   BootStackTop,
		Cmdline:    CmdlineAddr,
		CmdlineLen: uint32(len(cmdline)),
	}
}

// Bytes packs b in guest byte order.
func (b *BootInfo) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, b); err != nil {
		return nil, fmt.Errorf("pack boot info: %w", err)
	}
	return buf.Bytes(), nil
}

// IdentityMap writes page tables at base that map the first 4 GiB one to
// one with 2 MiB pages: one PML4, one PDPT and four page directories. It
// returns the value for CR3.
func IdentityMap(mem []byte, base uint64) (uint64, error) {
	if uint64(len(mem)) < base+pageTableSize {
		return 0, fmt.Errorf("page tables at %#x: %w", base, ErrMemTooSmall)
	}
	pt := mem[base : base+pageTableSize]
	for i := range pt {
		pt[i] = 0
	}

	const table = PDE64xPRESENT | PDE64xRW
	binary.LittleEndian.PutUint64(pt[0:], (base+0x1000)|table)
	for i := uint64(0); i < 4; i++ {
		pd := base + (i+2)*0x1000
		binary.LittleEndian.PutUint64(pt[0x1000+i*8:], pd|table|PDE64xACCESSED|PDE64xDIRTY)
	}
	for addr := uint64(0); addr < 1<<32; addr += hugePage {
		off := 0x2000 + (addr/hugePage)*8
		binary.LittleEndian.PutUint64(pt[off:], addr|table|PDE64xACCESSED|PDE64xDIRTY|PDE64xPS)
	}
	return base, nil
}

// BootGDT is the table the vCPU starts with: null, kernel code, kernel
// data. Its selectors match the ones the kernel's own table uses.
func BootGDT() []uint64 {
	return []uint64{0, gdt.KernelCode, gdt.KernelData}
}
