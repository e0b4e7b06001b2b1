package runner

import (
	"fmt"
	"time"

	"github.com/set-io/kboot/utils"
)

// Backend selects what boots the image.
type Backend string

const (
	QEMU Backend = "qemu"
	KVM  Backend = "kvm"
)

const (
	DefaultQEMU    = "qemu-system-x86_64"
	DefaultMemory  = 256 << 20
	DefaultTimeout = 300 * time.Second
)

// Image formats QEMU is given.
const (
	FormatRaw = "raw"
	FormatELF = "elf"
)

type Config struct {
	Debug   bool
	Backend Backend
	Kernel  string
	Format  string
	Memory  int
	Timeout time.Duration
	QEMU    string
	// Args are appended to the QEMU command line. The KVM backend passes
	// them to the guest as its command line.
	Args []string
	// Test selects test semantics: the guest must signal through the
	// debug-exit device.
	Test   bool
	Bundle string
	Hooks  Hooks `json:"-"`
}

func (c *Config) Validate() error {
	if c.Kernel == "" {
		return ErrNoKernel
	}
	switch c.Backend {
	case "":
		c.Backend = QEMU
	case QEMU, KVM:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	switch c.Format {
	case "":
		c.Format = FormatRaw
	case FormatRaw, FormatELF:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, c.Format)
	}
	if c.Memory <= 0 {
		c.Memory = DefaultMemory
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.QEMU == "" {
		c.QEMU = DefaultQEMU
	}
	if c.Hooks == nil {
		c.Hooks = make(Hooks)
	}
	return nil
}

// SetParameters applies key=value hypervisor parameters. Unknown keys are
// ignored.
func (c *Config) SetParameters(params []string) error {
	if v := utils.GetParams(params, "backend"); v != "" {
		c.Backend = Backend(v)
	}
	if v := utils.GetParams(params, "format"); v != "" {
		c.Format = v
	}
	if v := utils.GetParams(params, "memory"); v != "" {
		m, err := utils.ParseSize(v, "M")
		if err != nil {
			return fmt.Errorf("memory parameter: %w", err)
		}
		c.Memory = m
	}
	if v := utils.GetParams(params, "timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("timeout parameter: %w", err)
		}
		c.Timeout = d
	}
	return nil
}
