package machine

import "sync"

// Reset vector bases of the two controllers. An IRQ raised before the guest
// remaps them lands on CPU exception vectors.
const (
	MasterBase uint8 = 0x08
	SlaveBase  uint8 = 0x70
)

const (
	picMasterAddr = 0x20
	picSlaveAddr  = 0xa0
	cascadeIRQ    = 2
)

// PICState is the register file of one 8259.
type PICState struct {
	IRR           uint8
	IMR           uint8
	ISR           uint8
	IRQBase       uint8
	ReadRegSelect uint8
	InitState     uint8
	AutoEOI       uint8
	Single        uint8
	Init4         uint8
}

// next returns the highest priority request that is neither masked nor
// blocked by an equal or higher priority interrupt in service.
func (c *PICState) next() int {
	req := c.IRR &^ c.IMR
	if req == 0 {
		return -1
	}
	irq := lowestBit(req)
	if c.ISR != 0 && lowestBit(c.ISR) <= irq {
		return -1
	}
	return irq
}

func (c *PICState) command(v uint8) {
	switch {
	case v&0x10 != 0: // ICW1, latched requests survive
		c.IMR, c.ISR = 0, 0
		c.ReadRegSelect = 0
		c.Init4 = v & 0x01
		c.Single = (v >> 1) & 0x01
		c.InitState = 1
	case v&0x08 != 0: // OCW3
		if v&0x02 != 0 {
			c.ReadRegSelect = v & 0x01
		}
	default: // OCW2
		switch v & 0xe0 {
		case 0x20: // non-specific EOI
			if c.ISR != 0 {
				c.ISR &^= 1 << lowestBit(c.ISR)
			}
		case 0x60: // specific EOI
			c.ISR &^= 1 << (v & 0x07)
		}
	}
}

func (c *PICState) data(v uint8) {
	switch c.InitState {
	case 1: // ICW2
		c.IRQBase = v & 0xf8
		switch {
		case c.Single == 0:
			c.InitState = 3
		case c.Init4 != 0:
			c.InitState = 4
		default:
			c.InitState = 0
		}
	case 3: // ICW3
		if c.Init4 != 0 {
			c.InitState = 4
		} else {
			c.InitState = 0
		}
	case 4: // ICW4
		c.AutoEOI = (v >> 1) & 0x01
		c.InitState = 0
	default: // OCW1
		c.IMR = v
	}
}

func (c *PICState) read(reg uint64) uint8 {
	if reg == 1 {
		return c.IMR
	}
	if c.ReadRegSelect != 0 {
		return c.ISR
	}
	return c.IRR
}

func lowestBit(v uint8) int {
	for i := 0; i < 8; i++ {
		if v&(1<<i) != 0 {
			return i
		}
	}
	return -1
}

// PIC models the chained master and slave 8259 of a PC, slave on IRQ2.
type PIC struct {
	mu    sync.Mutex
	chips [2]PICState
}

func NewPIC() *PIC {
	p := &PIC{}
	p.chips[0].IRQBase = MasterBase
	p.chips[1].IRQBase = SlaveBase
	return p
}

// Register claims both controllers' ports.
func (p *PIC) Register(b *Bus) {
	b.Register(picMasterAddr, picMasterAddr+2, p)
	b.Register(picSlaveAddr, picSlaveAddr+2, p)
}

func (p *PIC) chip(port uint64) (*PICState, uint64) {
	if port >= picSlaveAddr {
		return &p.chips[1], port - picSlaveAddr
	}
	return &p.chips[0], port - picMasterAddr
}

func (p *PIC) In(port uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, reg := p.chip(port)
	data[0] = c.read(reg)
	return nil
}

func (p *PIC) Out(port uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, reg := p.chip(port)
	if reg == 0 {
		c.command(data[0])
	} else {
		c.data(data[0])
	}
	return nil
}

// Raise latches a request on line irq, 0 through 15.
func (p *PIC) Raise(irq int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chips[irq/8].IRR |= 1 << (irq % 8)
}

// cascade mirrors the slave's output onto the master's IRQ2 input.
func (p *PIC) cascade() {
	if p.chips[1].next() >= 0 {
		p.chips[0].IRR |= 1 << cascadeIRQ
	} else {
		p.chips[0].IRR &^= 1 << cascadeIRQ
	}
}

// Pending reports whether an interrupt would be delivered to the CPU.
func (p *PIC) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cascade()
	return p.chips[0].next() >= 0
}

// Acknowledge runs the INTA cycle: the highest priority request moves into
// service and its vector is returned.
func (p *PIC) Acknowledge() (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cascade()
	m := &p.chips[0]
	irq := m.next()
	if irq < 0 {
		return 0, false
	}
	m.IRR &^= 1 << irq
	if m.AutoEOI == 0 {
		m.ISR |= 1 << irq
	}
	if irq != cascadeIRQ {
		return m.IRQBase + uint8(irq), true
	}

	s := &p.chips[1]
	sirq := s.next()
	s.IRR &^= 1 << sirq
	if s.AutoEOI == 0 {
		s.ISR |= 1 << sirq
	}
	return s.IRQBase + uint8(sirq), true
}

// State returns a copy of both register files, master first.
func (p *PIC) State() [2]PICState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chips
}
