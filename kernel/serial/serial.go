// Package serial drives a 16550 UART used as the kernel console.
package serial

import "github.com/set-io/kboot/kernel"

// COM1Addr is the I/O base of the first serial port.
const COM1Addr uint16 = 0x03f8

// Register offsets from the I/O base.
const (
	regData = 0 // divisor low while DLAB is set
	regIER  = 1 // divisor high while DLAB is set
	regFCR  = 2
	regLCR  = 3
	regMCR  = 4
	regLSR  = 5
)

const (
	lcrDLAB  uint8 = 0x80
	lcr8N1   uint8 = 0x03
	fcrOn    uint8 = 0xc7 // enable, clear both, 14 byte threshold
	mcrReady uint8 = 0x0b // DTR, RTS, OUT2
	lsrTHRE  uint8 = 0x20

	// divisor 3 is 38400 baud.
	divisor uint8 = 3
)

// DefaultSpin bounds the wait for the transmit holding register.
const DefaultSpin = 1 << 16

// Port is a 16550 at a fixed I/O base. Output is best effort: a byte the
// line never accepts is dropped.
type Port struct {
	io      kernel.Port
	base    uint16
	spin    int
	dropped int
}

// New returns the UART at base. Init must be called before writing.
func New(io kernel.Port, base uint16) *Port {
	return &Port{io: io, base: base, spin: DefaultSpin}
}

// COM1 returns the UART at COM1Addr.
func COM1(io kernel.Port) *Port { return New(io, COM1Addr) }

// SetSpin changes the number of status polls before a byte is dropped.
func (p *Port) SetSpin(n int) { p.spin = n }

// Init programs 38400 baud 8N1 with FIFOs on and interrupts off.
func (p *Port) Init() {
	p.io.Out8(p.base+regIER, 0)
	p.io.Out8(p.base+regLCR, lcrDLAB)
	p.io.Out8(p.base+regData, divisor)
	p.io.Out8(p.base+regIER, 0)
	p.io.Out8(p.base+regLCR, lcr8N1)
	p.io.Out8(p.base+regFCR, fcrOn)
	p.io.Out8(p.base+regMCR, mcrReady)
}

// WriteByte transmits b once the holding register is empty.
func (p *Port) WriteByte(b byte) error {
	for i := 0; i < p.spin; i++ {
		if p.io.In8(p.base+regLSR)&lsrTHRE != 0 {
			p.io.Out8(p.base+regData, b)
			return nil
		}
	}
	p.dropped++
	return nil
}

// Write implements io.Writer. It never fails.
func (p *Port) Write(b []byte) (int, error) {
	for _, c := range b {
		_ = p.WriteByte(c)
	}
	return len(b), nil
}

// WriteString implements io.StringWriter without converting s.
func (p *Port) WriteString(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		_ = p.WriteByte(s[i])
	}
	return len(s), nil
}

// Dropped returns the number of bytes the line never accepted.
func (p *Port) Dropped() int { return p.dropped }
