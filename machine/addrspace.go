package machine

import (
	"encoding/binary"
	"fmt"
)

const (
	// MmapBase is where reservations without a usable hint start.
	MmapBase = 0x7f00_0000_0000

	userLimit = 0x8000_0000_0000
)

type span struct{ start, end uint64 }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

func alignUp(v, a uint64) uint64 { return (v + a - 1) &^ (a - 1) }

// AddressSpace hands out guest virtual memory above the identity map. It
// extends the page tables IdentityMap built with 2 MiB pages whose frames
// come from RAM above the kernel image.
type AddressSpace struct {
	mem []byte
	cr3 uint64

	phys      uint64
	used      int
	tables    uint64
	tablesEnd uint64

	next     uint64
	reserved []span
	frames   map[uint64]uint64
}

// NewAddressSpace takes over the tables rooted at cr3. Frames are taken
// from physStart up to the end of mem.
func NewAddressSpace(mem []byte, cr3, physStart uint64) *AddressSpace {
	return &AddressSpace{
		mem:    mem,
		cr3:    cr3,
		phys:   alignUp(physStart, hugePage),
		next:   MmapBase,
		frames: map[uint64]uint64{},
	}
}

// Reserve claims size bytes of address space without backing them. hint is
// honoured when the range is free and above the identity map.
func (a *AddressSpace) Reserve(hint, size uint64) (uint64, error) {
	size = alignUp(size, pageSize)
	if size == 0 {
		return 0, fmt.Errorf("%w: empty reservation", ErrBadMapping)
	}
	if hint != 0 && hint%pageSize == 0 && hint >= identityLimit && hint+size > hint && hint+size <= userLimit {
		s := span{hint, hint + size}
		if _, taken := a.overlap(s); !taken {
			a.reserved = append(a.reserved, s)
			return hint, nil
		}
	}
	for {
		s := span{a.next, a.next + size}
		if s.end > userLimit || s.end < s.start {
			return 0, ErrAddressSpaceFull
		}
		if o, taken := a.overlap(s); taken {
			a.next = alignUp(o.end, pageSize)
			continue
		}
		a.next = s.end
		a.reserved = append(a.reserved, s)
		return s.start, nil
	}
}

func (a *AddressSpace) overlap(s span) (span, bool) {
	for _, r := range a.reserved {
		if r.overlaps(s) {
			return r, true
		}
	}
	return span{}, false
}

// Claim records a fixed mapping at addr so later reservations avoid it.
func (a *AddressSpace) Claim(addr, size uint64) {
	s := span{addr, addr + alignUp(size, pageSize)}
	if addr < identityLimit || s.end < s.start {
		return
	}
	if _, taken := a.overlap(s); !taken {
		a.reserved = append(a.reserved, s)
	}
}

// Commit backs [addr, addr+size) with zeroed RAM. Pages that are already
// backed keep their contents. The identity-mapped range is always backed
// up to the end of RAM.
func (a *AddressSpace) Commit(addr, size uint64) error {
	if size == 0 {
		return nil
	}
	end := addr + size
	if end < addr || end > userLimit {
		return fmt.Errorf("%w: %#x+%#x", ErrBadMapping, addr, size)
	}
	if addr < identityLimit {
		if end > uint64(len(a.mem)) {
			return fmt.Errorf("%w: %#x+%#x is outside RAM", ErrBadMapping, addr, size)
		}
		return nil
	}
	for page := addr &^ (hugePage - 1); page < end; page += hugePage {
		if _, ok := a.frames[page]; ok {
			continue
		}
		frame, err := a.allocFrame()
		if err != nil {
			return err
		}
		if err := a.mapPage(page, frame); err != nil {
			return err
		}
		a.frames[page] = frame
	}
	return nil
}

func (a *AddressSpace) allocFrame() (uint64, error) {
	if a.phys+hugePage > uint64(len(a.mem)) {
		return 0, ErrGuestOutOfMemory
	}
	f := a.phys
	a.phys += hugePage
	a.used++
	clear(a.mem[f : f+hugePage])
	return f, nil
}

func (a *AddressSpace) allocTable() (uint64, error) {
	if a.tables == a.tablesEnd {
		f, err := a.allocFrame()
		if err != nil {
			return 0, err
		}
		a.tables, a.tablesEnd = f, f+hugePage
	}
	t := a.tables
	a.tables += pageSize
	return t, nil
}

// mapPage points the page directory entry for virt at frame, creating the
// intermediate tables on the way.
func (a *AddressSpace) mapPage(virt, frame uint64) error {
	table := a.cr3 & pteAddrMask
	for _, shift := range [...]uint{39, 30} {
		entry := table + (virt>>shift&511)*8
		e := binary.LittleEndian.Uint64(a.mem[entry:])
		switch {
		case e&PDE64xPRESENT == 0:
			next, err := a.allocTable()
			if err != nil {
				return err
			}
			e = next | PDE64xPRESENT | PDE64xRW
			binary.LittleEndian.PutUint64(a.mem[entry:], e)
		case e&PDE64xPS != 0:
			return fmt.Errorf("%w: %#x lies in a 1 GiB page", ErrBadMapping, virt)
		}
		table = e & pteAddrMask
	}
	entry := table + (virt>>21&511)*8
	const flags = PDE64xPRESENT | PDE64xRW | PDE64xACCESSED | PDE64xDIRTY | PDE64xPS
	binary.LittleEndian.PutUint64(a.mem[entry:], frame|flags)
	return nil
}

// Translate returns the guest physical address backing virt.
func (a *AddressSpace) Translate(virt uint64) (uint64, bool) {
	if virt < identityLimit {
		return virt, virt < uint64(len(a.mem))
	}
	f, ok := a.frames[virt&^(hugePage-1)]
	return f + virt&(hugePage-1), ok
}

// each calls fn for every physically contiguous piece of [virt, virt+n).
func (a *AddressSpace) each(virt uint64, n int, fn func(m []byte, off int)) error {
	for off := 0; off < n; {
		v := virt + uint64(off)
		phys, ok := a.Translate(v)
		if !ok {
			return fmt.Errorf("%w: %#x", ErrBadAddress, v)
		}
		chunk := min(hugePage-v&(hugePage-1), uint64(n-off))
		if phys+chunk > uint64(len(a.mem)) {
			return fmt.Errorf("%w: %#x", ErrBadAddress, v)
		}
		fn(a.mem[phys:phys+chunk], off)
		off += int(chunk)
	}
	return nil
}

// Load copies guest memory at virt into p.
func (a *AddressSpace) Load(p []byte, virt uint64) error {
	return a.each(virt, len(p), func(m []byte, off int) { copy(p[off:], m) })
}

// Store copies p into guest memory at virt.
func (a *AddressSpace) Store(p []byte, virt uint64) error {
	return a.each(virt, len(p), func(m []byte, off int) { copy(m, p[off:]) })
}

// Zero clears the backed parts of [virt, virt+size).
func (a *AddressSpace) Zero(virt, size uint64) {
	end := virt + size
	for v := virt; v < end && v >= virt; {
		next := min((v&^(hugePage-1))+hugePage, end)
		if phys, ok := a.Translate(v); ok && phys+(next-v) <= uint64(len(a.mem)) {
			clear(a.mem[phys : phys+(next-v)])
		}
		v = next
	}
}

// Frames returns how many 2 MiB frames the window uses, page tables
// included.
func (a *AddressSpace) Frames() int { return a.used }
