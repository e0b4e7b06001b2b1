package machine

import (
	"fmt"
	"io"
)

// FWDebug is the firmware debug console at 0x402.
type FWDebug struct {
	W io.Writer
}

func (f *FWDebug) In(port uint64, data []byte) error {
	if len(data) != 1 {
		return ErrDataLenInvalid
	}
	data[0] = 0xE9
	return nil
}

func (f *FWDebug) Out(port uint64, data []byte) error {
	if len(data) != 1 {
		return ErrDataLenInvalid
	}
	if f.W == nil {
		return nil
	}
	c := data[0]
	if c == 0 {
		_, err := io.WriteString(f.W, "\r\n")
		return err
	}
	_, err := f.W.Write([]byte{c})
	return err
}

func (f *FWDebug) IOPort() uint64 { return 0x402 }
func (f *FWDebug) Size() uint64   { return 0x1 }

// PostCode records the last byte written to the POST diagnostic port. The
// port doubles as an I/O delay, so writes are only logged when debugging.
type PostCode struct {
	Last   byte
	Writes int
	Log    io.Writer
}

func (p *PostCode) In(port uint64, data []byte) error {
	data[0] = p.Last
	return nil
}

func (p *PostCode) Out(port uint64, data []byte) error {
	p.Last = data[0]
	p.Writes++
	if debug && p.Log != nil {
		fmt.Fprintf(p.Log, "post code %#02x\n", data[0])
	}
	return nil
}

func (p *PostCode) IOPort() uint64 { return 0x80 }
func (p *PostCode) Size() uint64   { return 0x1 }
