package heap

import (
	"errors"
	"testing"

	"github.com/set-io/kboot/kernel"
)

const (
	heapStart = 0x4444_4444_0000
	heapSize  = 100 * 1024
)

func TestTryAlloc(t *testing.T) {
	tests := []struct {
		name    string
		layouts []kernel.Layout
		want    []uintptr
		err     error
	}{
		{
			name:    "aligned",
			layouts: []kernel.Layout{{Size: 1, Align: 1}, {Size: 8, Align: 8}, {Size: 16, Align: 4096}},
			want:    []uintptr{heapStart, heapStart + 8, heapStart + 4096},
		},
		{
			name:    "exact fit",
			layouts: []kernel.Layout{{Size: heapSize, Align: 8}},
			want:    []uintptr{heapStart},
		},
		{
			name:    "too large",
			layouts: []kernel.Layout{{Size: heapSize + 1, Align: 8}},
			err:     ErrOutOfMemory,
		},
		{
			name:    "bad alignment",
			layouts: []kernel.Layout{{Size: 8, Align: 3}},
			err:     ErrBadLayout,
		},
		{
			name:    "zero alignment",
			layouts: []kernel.Layout{{Size: 8}},
			err:     ErrBadLayout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBump(heapStart, heapSize)
			var got []uintptr
			var err error
			for _, l := range tt.layouts {
				var addr uintptr
				addr, err = b.TryAlloc(l)
				if err != nil {
					break
				}
				got = append(got, addr)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("allocation %d at %#x, want %#x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDeallocResetsWhenEmpty(t *testing.T) {
	b := NewBump(heapStart, heapSize)
	l := kernel.Layout{Size: 64, Align: 8}

	for i := 0; i < 10*heapSize/64; i++ {
		addr := b.Alloc(l)
		if addr != heapStart {
			t.Fatalf("allocation %d at %#x, want reuse of %#x", i, addr, uintptr(heapStart))
		}
		b.Dealloc(addr)
	}
	if b.Used() != 0 || b.Allocations() != 0 {
		t.Errorf("Used() = %d, Allocations() = %d", b.Used(), b.Allocations())
	}
}

func TestDeallocKeepsLiveMemory(t *testing.T) {
	b := NewBump(heapStart, heapSize)
	l := kernel.Layout{Size: 64, Align: 8}
	long := b.Alloc(l)
	for i := 0; i < 4; i++ {
		b.Dealloc(b.Alloc(l))
	}
	if b.Used() != 5*64 {
		t.Errorf("Used() = %d, want %d", b.Used(), 5*64)
	}
	b.Dealloc(long)
	if b.Used() != 0 {
		t.Errorf("Used() = %d after releasing everything", b.Used())
	}
	b.Dealloc(long)
	if b.Allocations() != 0 {
		t.Errorf("Allocations() = %d after double release", b.Allocations())
	}
}

func TestAllocFailureCallsHook(t *testing.T) {
	b := NewBump(heapStart, heapSize)
	var failed kernel.Layout
	b.OnFailure(func(l kernel.Layout) {
		failed = l
		panic("hook")
	})

	func() {
		defer func() {
			if r := recover(); r != "hook" {
				t.Errorf("recover() = %v", r)
			}
		}()
		b.Alloc(kernel.Layout{Size: 2 * heapSize, Align: 16})
		t.Error("Alloc returned")
	}()

	if failed != (kernel.Layout{Size: 2 * heapSize, Align: 16}) {
		t.Errorf("hook got %v", failed)
	}
}

func TestAllocDefaultHook(t *testing.T) {
	b := NewBump(heapStart, 16)
	defer func() {
		if _, ok := recover().(*kernel.AllocError); !ok {
			t.Error("default hook did not panic with *kernel.AllocError")
		}
	}()
	b.Alloc(kernel.Layout{Size: 32, Align: 8})
}
