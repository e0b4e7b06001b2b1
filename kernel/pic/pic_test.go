package pic

import (
	"reflect"
	"testing"
)

type write struct {
	port uint16
	v    uint8
}

type portLog struct {
	imr    map[uint16]uint8
	writes []write
}

func newPortLog(m1, m2 uint8) *portLog {
	return &portLog{imr: map[uint16]uint8{pic1Data: m1, pic2Data: m2}}
}

func (p *portLog) In8(port uint16) uint8 { return p.imr[port] }

func (p *portLog) Out8(port uint16, v uint8) {
	p.writes = append(p.writes, write{port, v})
	if port == pic1Data || port == pic2Data {
		p.imr[port] = v
	}
}

func (p *portLog) Out32(uint16, uint32) {}

// withoutWaits drops the I/O wait writes.
func (p *portLog) withoutWaits() []write {
	var ws []write
	for _, w := range p.writes {
		if w.port != waitPort {
			ws = append(ws, w)
		}
	}
	return ws
}

func TestInitializeSequence(t *testing.T) {
	p := newPortLog(0xb8, 0x8e)
	c := Default(p)

	c.Initialize()

	want := []write{
		{0x20, 0x11}, {0xa0, 0x11},
		{0x21, 32}, {0xa1, 40},
		{0x21, 4}, {0xa1, 2},
		{0x21, 0x01}, {0xa1, 0x01},
		{0x21, 0xb8}, {0xa1, 0x8e},
	}
	if got := p.withoutWaits(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
	waits := len(p.writes) - len(want)
	if waits != 8 {
		t.Errorf("%d io waits, want 8", waits)
	}
	if !c.Initialized() {
		t.Error("Initialized() = false")
	}
}

func TestInitializeConfiguredMasks(t *testing.T) {
	p := newPortLog(0xff, 0xff)
	c := Default(p).WithMasks([2]uint8{0xfe, 0xff})

	c.Initialize()

	if got := c.Masks(); got != [2]uint8{0xfe, 0xff} {
		t.Errorf("Masks() = %#x", got)
	}
}

func TestHandlesInterrupt(t *testing.T) {
	c := Default(newPortLog(0, 0))
	tests := []struct {
		id   uint8
		want bool
	}{
		{31, false},
		{32, true},
		{39, true},
		{40, true},
		{47, true},
		{48, false},
		{8, false},
	}
	for _, tt := range tests {
		if got := c.HandlesInterrupt(tt.id); got != tt.want {
			t.Errorf("HandlesInterrupt(%d) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestNotifyEndOfInterrupt(t *testing.T) {
	tests := []struct {
		name string
		id   uint8
		want []write
	}{
		{"master", Timer, []write{{0x20, 0x20}}},
		{"slave", PIC2Offset + 4, []write{{0xa0, 0x20}, {0x20, 0x20}}},
		{"foreign", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPortLog(0, 0)
			Default(p).NotifyEndOfInterrupt(tt.id)
			if !reflect.DeepEqual(p.writes, tt.want) {
				t.Errorf("writes = %v, want %v", p.writes, tt.want)
			}
		})
	}
}
