package machine

import (
	"bytes"
	"errors"
	"testing"
)

func TestBusDefaults(t *testing.T) {
	b := NewBus()
	tests := []struct {
		name string
		port uint64
		out  bool
		err  error
	}{
		{"unclaimed read", 0x1234, false, ErrUnhandledPort},
		{"unclaimed write", 0x1234, true, ErrUnhandledPort},
		{"vga noop", 0x3c0, true, nil},
		{"ps2 status", 0x64, false, nil},
		{"reset", 0xcf9, true, ErrWriteToCF9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte{0x0e}
			var err error
			if tt.out {
				err = b.Out(tt.port, data)
			} else {
				err = b.In(tt.port, data)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
		})
	}

	data := []byte{0}
	if err := b.In(0x64, data); err != nil || data[0] != 0x20 {
		t.Errorf("ps2 status = %#x, %v", data[0], err)
	}
}

func TestBusAttach(t *testing.T) {
	b := NewBus()
	var out bytes.Buffer
	s := NewSerial(&out)
	b.Attach(s)

	if len(b.Devices()) != 1 {
		t.Fatalf("Devices() = %v", b.Devices())
	}
	if err := b.Out(COM1Addr, []byte{'k'}); err != nil {
		t.Fatal(err)
	}
	if err := b.Out(COM1Addr+8, []byte{'k'}); !errors.Is(err, ErrUnhandledPort) {
		t.Errorf("port past the device: err = %v", err)
	}
	if out.String() != "k" {
		t.Errorf("serial output = %q", out.String())
	}
}

func TestSerial(t *testing.T) {
	var out bytes.Buffer
	s := NewSerial(&out)

	writes := []struct {
		reg uint64
		v   byte
	}{
		{1, 0x00},
		{3, 0x80},
		{0, 0x03},
		{1, 0x00},
		{3, 0x03},
		{2, 0xc7},
		{4, 0x0b},
		{0, 'o'},
		{0, 'k'},
	}
	for _, w := range writes {
		if err := s.Out(COM1Addr+w.reg, []byte{w.v}); err != nil {
			t.Fatal(err)
		}
	}

	if s.Divisor() != 3 {
		t.Errorf("Divisor() = %d", s.Divisor())
	}
	if out.String() != "ok" || s.Transmitted() != 2 {
		t.Errorf("output = %q, Transmitted() = %d", out.String(), s.Transmitted())
	}
	lsr := []byte{0}
	_ = s.In(COM1Addr+5, lsr)
	if lsr[0]&0x20 == 0 {
		t.Errorf("LSR = %#x, THR not empty", lsr[0])
	}
}

func TestDebugExit(t *testing.T) {
	tests := []struct {
		data   []byte
		value  uint32
		status int
	}{
		{[]byte{0x10, 0, 0, 0}, 0x10, 33},
		{[]byte{0x11, 0, 0, 0}, 0x11, 35},
		{[]byte{0x00}, 0, 1},
		{[]byte{0x01, 0x01}, 0x101, 0x203},
	}
	d := &DebugExit{}
	for _, tt := range tests {
		err := d.Out(DebugExitAddr, tt.data)
		var ge *GuestExit
		if !errors.As(err, &ge) {
			t.Fatalf("Out(%#x) = %v, want *GuestExit", tt.data, err)
		}
		if ge.Value != tt.value || ge.Status != tt.status {
			t.Errorf("Out(%#x) = %+v, want value %#x status %d", tt.data, ge, tt.value, tt.status)
		}
	}
	if err := d.Out(DebugExitAddr, []byte{1, 2, 3}); !errors.Is(err, ErrDataLenInvalid) {
		t.Errorf("3-byte write: err = %v", err)
	}
}

func TestFWDebug(t *testing.T) {
	var out bytes.Buffer
	f := &FWDebug{W: &out}
	for _, c := range []byte("hi\x00") {
		if err := f.Out(0x402, []byte{c}); err != nil {
			t.Fatal(err)
		}
	}
	if out.String() != "hi\r\n" {
		t.Errorf("output = %q", out.String())
	}
	if err := f.Out(0x402, []byte{1, 2}); !errors.Is(err, ErrDataLenInvalid) {
		t.Errorf("err = %v", err)
	}
}

func TestExitString(t *testing.T) {
	if EXITHLT.String() != "EXITHLT" || EXITSHUTDOWN.String() != "EXITSHUTDOWN" {
		t.Error("unexpected exit names")
	}
	if Exit(99).String() != "Exit(99)" {
		t.Errorf("Exit(99).String() = %q", Exit(99).String())
	}
}
