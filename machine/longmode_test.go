package machine

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/set-io/kboot/kernel/gdt"
)

func TestIdentityMap(t *testing.T) {
	mem := make([]byte, MinMemSize)
	for i := range mem {
		mem[i] = 0xff
	}
	cr3, err := IdentityMap(mem, PageTableBase)
	if err != nil {
		t.Fatal(err)
	}
	if cr3 != PageTableBase {
		t.Errorf("cr3 = %#x", cr3)
	}

	entry := func(off uint64) uint64 {
		return binary.LittleEndian.Uint64(mem[PageTableBase+off:])
	}
	tests := []struct {
		name string
		off  uint64
		want uint64
	}{
		{"pml4[0]", 0, PageTableBase + 0x1000 | 0x3},
		{"pml4[1]", 8, 0},
		{"pdpt[0]", 0x1000, PageTableBase + 0x2000 | 0x63},
		{"pdpt[3]", 0x1018, PageTableBase + 0x5000 | 0x63},
		{"pdpt[4]", 0x1020, 0},
		{"pd[0]", 0x2000, 0xe3},
		{"pd[1]", 0x2008, 0x20_0000 | 0xe3},
		{"last", 0x5ff8, 0xffe0_0000 | 0xe3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry(tt.off); got != tt.want {
				t.Errorf("entry = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestIdentityMapTooSmall(t *testing.T) {
	_, err := IdentityMap(make([]byte, PageTableBase+0x1000), PageTableBase)
	if !errors.Is(err, ErrMemTooSmall) {
		t.Errorf("err = %v, want ErrMemTooSmall", err)
	}
}

func TestBootInfoBytes(t *testing.T) {
	b, err := NewBootInfo(128<<20, "quiet").Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 44 {
		t.Fatalf("packed size = %d, want 44", len(b))
	}
	if string(b[0:4]) != "KBOT" {
		t.Errorf("magic = %q", b[0:4])
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != 1 {
		t.Errorf("version = %d", v)
	}
	if v := binary.LittleEndian.Uint64(b[8:]); v != 128<<20 {
		t.Errorf("memory = %#x", v)
	}
	if v := binary.LittleEndian.Uint64(b[16:]); v != PageTableBase {
		t.Errorf("page table = %#x", v)
	}
	if v := binary.LittleEndian.Uint64(b[24:]); v != BootStackTop {
		t.Errorf("stack = %#x", v)
	}
	if v := binary.LittleEndian.Uint64(b[32:]); v != CmdlineAddr {
		t.Errorf("cmdline = %#x", v)
	}
	if v := binary.LittleEndian.Uint32(b[40:]); v != 5 {
		t.Errorf("cmdline length = %d", v)
	}
}

func TestBootGDTMatchesKernelSelectors(t *testing.T) {
	table := BootGDT()
	cs := gdt.Decode(table[gdt.KernelCodeSelector>>3], uint8(gdt.KernelCodeSelector>>3))
	if cs.L != 1 || cs.Present != 1 || cs.Selector != gdt.KernelCodeSelector {
		t.Errorf("code segment = %+v", cs)
	}
	ds := gdt.Decode(table[gdt.KernelDataSelector>>3], uint8(gdt.KernelDataSelector>>3))
	if ds.Present != 1 || ds.S != 1 || ds.Selector != gdt.KernelDataSelector {
		t.Errorf("data segment = %+v", ds)
	}
}
