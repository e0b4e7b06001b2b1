// Package pic drives the pair of chained 8259 interrupt controllers.
package pic

import "github.com/set-io/kboot/kernel"

// Vector bases after Initialize. They sit directly above the 32 exception
// vectors.
const (
	PIC1Offset uint8 = 32
	PIC2Offset uint8 = PIC1Offset + 8
)

// Timer is the vector of IRQ0 after remapping.
const Timer = PIC1Offset

const (
	pic1Command uint16 = 0x20
	pic1Data    uint16 = 0x21
	pic2Command uint16 = 0xA0
	pic2Data    uint16 = 0xA1

	// Writes to an unused port take long enough for the controllers to
	// settle between initialization words.
	waitPort uint16 = 0x80

	cmdInit     uint8 = 0x11
	cmdEOI      uint8 = 0x20
	mode8086    uint8 = 0x01
	cascadeLine uint8 = 4 // slave on master IRQ2
	cascadeID   uint8 = 2
)

type controller struct {
	offset  uint8
	command uint16
	data    uint16
}

func (c controller) handles(id uint8) bool {
	return c.offset <= id && id < c.offset+8
}

// Chained is the master and slave controller pair.
type Chained struct {
	port   kernel.Port
	pics   [2]controller
	masks  *[2]uint8
	inited bool
}

// New returns the pair at the standard ports remapped to offset1 and offset2.
func New(port kernel.Port, offset1, offset2 uint8) *Chained {
	return &Chained{
		port: port,
		pics: [2]controller{
			{offset: offset1, command: pic1Command, data: pic1Data},
			{offset: offset2, command: pic2Command, data: pic2Data},
		},
	}
}

// Default returns the pair remapped to PIC1Offset and PIC2Offset.
func Default(port kernel.Port) *Chained {
	return New(port, PIC1Offset, PIC2Offset)
}

// WithMasks makes Initialize install m instead of the masks found at boot.
func (c *Chained) WithMasks(m [2]uint8) *Chained {
	c.masks = &m
	return c
}

func (c *Chained) wait() { c.port.Out8(waitPort, 0) }

// Initialize remaps both controllers. The masks in effect before the call
// are restored afterwards unless WithMasks configured others.
func (c *Chained) Initialize() {
	saved := c.Masks()

	for _, p := range c.pics {
		c.port.Out8(p.command, cmdInit)
		c.wait()
	}
	for _, p := range c.pics {
		c.port.Out8(p.data, p.offset)
		c.wait()
	}
	c.port.Out8(c.pics[0].data, cascadeLine)
	c.wait()
	c.port.Out8(c.pics[1].data, cascadeID)
	c.wait()
	for _, p := range c.pics {
		c.port.Out8(p.data, mode8086)
		c.wait()
	}

	if c.masks != nil {
		saved = *c.masks
	}
	c.SetMasks(saved)
	c.inited = true
}

// Initialized reports whether Initialize completed.
func (c *Chained) Initialized() bool { return c.inited }

// Masks reads the interrupt mask registers.
func (c *Chained) Masks() [2]uint8 {
	return [2]uint8{c.port.In8(c.pics[0].data), c.port.In8(c.pics[1].data)}
}

// SetMasks writes the interrupt mask registers.
func (c *Chained) SetMasks(m [2]uint8) {
	c.port.Out8(c.pics[0].data, m[0])
	c.port.Out8(c.pics[1].data, m[1])
}

// HandlesInterrupt reports whether vector id belongs to either controller.
func (c *Chained) HandlesInterrupt(id uint8) bool {
	return c.pics[0].handles(id) || c.pics[1].handles(id)
}

// NotifyEndOfInterrupt acknowledges vector id. Vectors from the slave are
// acknowledged on both controllers, slave first.
func (c *Chained) NotifyEndOfInterrupt(id uint8) {
	if !c.HandlesInterrupt(id) {
		return
	}
	if c.pics[1].handles(id) {
		c.port.Out8(c.pics[1].command, cmdEOI)
	}
	c.port.Out8(c.pics[0].command, cmdEOI)
}
