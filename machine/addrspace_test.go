package machine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func newAddressSpace(t *testing.T, memSize, physStart uint64) (*AddressSpace, []byte) {
	t.Helper()
	mem := make([]byte, memSize)
	cr3, err := IdentityMap(mem, PageTableBase)
	if err != nil {
		t.Fatal(err)
	}
	return NewAddressSpace(mem, cr3, physStart), mem
}

func TestAddressSpaceReserve(t *testing.T) {
	a, _ := newAddressSpace(t, MinMemSize, HighMemBase)
	tests := []struct {
		name       string
		hint, size uint64
		want       uint64
	}{
		{"no hint", 0, 0x1000, MmapBase},
		{"free hint", 1 << 32, 0x10000, 1 << 32},
		{"taken hint", 1 << 32, 0x1000, MmapBase + 0x1000},
		{"hint in identity map", 0x1000, 0x1000, MmapBase + 0x2000},
		{"unaligned hint", 1<<33 + 1, 0x1000, MmapBase + 0x3000},
		{"size rounded up", 0, 1, MmapBase + 0x4000},
		{"after rounded", 0, 0x1000, MmapBase + 0x5000},
	}
	for _, tt := range tests {
		got, err := a.Reserve(tt.hint, tt.size)
		if err != nil || got != tt.want {
			t.Errorf("%s: Reserve(%#x, %#x) = %#x, %v, want %#x", tt.name, tt.hint, tt.size, got, err, tt.want)
		}
	}

	a.Claim(MmapBase+0x6000, 0x1000)
	if got, err := a.Reserve(0, 0x2000); err != nil || got != MmapBase+0x7000 {
		t.Errorf("Reserve past claim = %#x, %v", got, err)
	}
	if _, err := a.Reserve(0, 0); !errors.Is(err, ErrBadMapping) {
		t.Errorf("empty Reserve err = %v", err)
	}
}

func TestAddressSpaceCommit(t *testing.T) {
	const phys = 8 << 20
	a, mem := newAddressSpace(t, 16<<20, phys)
	if err := a.Commit(MmapBase, 0x1000); err != nil {
		t.Fatal(err)
	}
	if got, ok := a.Translate(MmapBase + 0x123); !ok || got != phys+0x123 {
		t.Errorf("Translate = %#x, %v", got, ok)
	}
	if a.Frames() != 2 {
		t.Errorf("Frames() = %d, want data and table frames", a.Frames())
	}

	table := uint64(PageTableBase)
	for _, shift := range []uint{39, 30} {
		e := binary.LittleEndian.Uint64(mem[table+(MmapBase>>shift&511)*8:])
		if e&PDE64xPRESENT == 0 || e&PDE64xPS != 0 {
			t.Fatalf("level %d entry = %#x", shift, e)
		}
		table = e & pteAddrMask
	}
	pde := binary.LittleEndian.Uint64(mem[table+(MmapBase>>21&511)*8:])
	if want := uint64(phys) | 0xe3; pde != want {
		t.Errorf("pde = %#x, want %#x", pde, want)
	}

	if err := a.Commit(MmapBase+0x2000, 0x1000); err != nil || a.Frames() != 2 {
		t.Errorf("recommit err = %v, frames = %d", err, a.Frames())
	}
}

func TestAddressSpaceCommitErrors(t *testing.T) {
	tests := []struct {
		name       string
		phys       uint64
		addr, size uint64
		want       error
	}{
		{"identity inside RAM", 8 << 20, HighMemBase, 0x1000, nil},
		{"identity past RAM", 8 << 20, 15 << 20, 2 << 20, ErrBadMapping},
		{"past user space", 8 << 20, userLimit - 0x1000, 0x2000, ErrBadMapping},
		{"no frames left", 14 << 20, MmapBase, 0x1000, ErrGuestOutOfMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newAddressSpace(t, 16<<20, tt.phys)
			if err := a.Commit(tt.addr, tt.size); !errors.Is(err, tt.want) {
				t.Errorf("Commit err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAddressSpaceLoadStore(t *testing.T) {
	a, _ := newAddressSpace(t, 16<<20, 8<<20)
	if err := a.Commit(MmapBase, 2*hugePage); err != nil {
		t.Fatal(err)
	}
	at := uint64(MmapBase + hugePage - 3)
	want := []byte("abcdef")
	if err := a.Store(want, at); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(want))
	if err := a.Load(got, at); err != nil || !bytes.Equal(got, want) {
		t.Errorf("Load = %q, %v", got, err)
	}

	a.Zero(at, uint64(len(want)))
	if err := a.Load(got, at); err != nil || !bytes.Equal(got, make([]byte, len(want))) {
		t.Errorf("after Zero = %q, %v", got, err)
	}

	if err := a.Load(got, MmapBase+4*hugePage); !errors.Is(err, ErrBadAddress) {
		t.Errorf("unbacked Load err = %v", err)
	}
}
