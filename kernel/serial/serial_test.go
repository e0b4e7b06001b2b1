package serial

import (
	"reflect"
	"testing"
)

type uart struct {
	busy   bool
	polls  int
	writes [][2]uint16
	tx     []byte
}

func (u *uart) In8(port uint16) uint8 {
	if port != COM1Addr+regLSR {
		return 0
	}
	u.polls++
	if u.busy {
		return 0
	}
	return lsrTHRE
}

func (u *uart) Out8(port uint16, v uint8) {
	u.writes = append(u.writes, [2]uint16{port, uint16(v)})
	if port == COM1Addr && len(u.writes) > 7 {
		u.tx = append(u.tx, v)
	}
}

func (u *uart) Out32(uint16, uint32) {}

func TestInit(t *testing.T) {
	u := &uart{}
	COM1(u).Init()

	want := [][2]uint16{
		{0x3f9, 0x00},
		{0x3fb, 0x80},
		{0x3f8, 0x03},
		{0x3f9, 0x00},
		{0x3fb, 0x03},
		{0x3fa, 0xc7},
		{0x3fc, 0x0b},
	}
	if !reflect.DeepEqual(u.writes, want) {
		t.Errorf("writes = %#x, want %#x", u.writes, want)
	}
}

func TestWrite(t *testing.T) {
	u := &uart{}
	p := COM1(u)
	p.Init()

	n, err := p.WriteString("Running 1 tests\n")
	if err != nil || n != 16 {
		t.Fatalf("WriteString() = %d, %v", n, err)
	}
	if _, err := p.Write([]byte("[ok]\n")); err != nil {
		t.Fatal(err)
	}
	if got := string(u.tx); got != "Running 1 tests\n[ok]\n" {
		t.Errorf("transmitted %q", got)
	}
	if p.Dropped() != 0 {
		t.Errorf("Dropped() = %d", p.Dropped())
	}
}

func TestWriteDropsWhenLineStuck(t *testing.T) {
	u := &uart{busy: true}
	p := COM1(u)
	p.Init()
	p.SetSpin(10)

	n, err := p.WriteString("abc")
	if err != nil || n != 3 {
		t.Fatalf("WriteString() = %d, %v", n, err)
	}
	if len(u.tx) != 0 {
		t.Errorf("transmitted %q on a stuck line", u.tx)
	}
	if p.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", p.Dropped())
	}
	if u.polls != 30 {
		t.Errorf("polls = %d, want 30", u.polls)
	}
}
