package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/runtime-spec/specs-go"
)

// SpecConfig is the name of the bundle configuration file.
const SpecConfig = "config.json"

// LoadBundle reads dir/config.json. Paths in it are relative to dir.
func LoadBundle(dir string) (*Config, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(abs, SpecConfig))
	if err != nil {
		return nil, fmt.Errorf("open bundle config: %w", err)
	}
	defer f.Close()

	var spec specs.Spec
	if err := json.NewDecoder(f).Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", SpecConfig, err)
	}
	return FromSpec(&spec, abs)
}

// FromSpec turns the vm section of a runtime spec into a Config.
func FromSpec(spec *specs.Spec, bundle string) (*Config, error) {
	if spec.VM == nil {
		return nil, ErrNoVM
	}
	c := &Config{
		Bundle: bundle,
		Kernel: resolve(bundle, spec.VM.Kernel.Path),
		QEMU:   spec.VM.Hypervisor.Path,
		Args:   spec.VM.Kernel.Parameters,
		Hooks:  make(Hooks),
	}
	if err := c.SetParameters(spec.VM.Hypervisor.Parameters); err != nil {
		return nil, err
	}
	if spec.Hooks != nil {
		for _, h := range append(spec.Hooks.Prestart, spec.Hooks.CreateRuntime...) {
			c.Hooks.Add(PreStart, &CommandHook{Hook: h})
		}
		for _, h := range spec.Hooks.Poststart {
			c.Hooks.Add(PostStart, &CommandHook{Hook: h})
		}
		for _, h := range spec.Hooks.Poststop {
			c.Hooks.Add(PostStop, &CommandHook{Hook: h})
		}
	}
	return c, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// DefaultSpec is the starter bundle configuration.
func DefaultSpec() *specs.Spec {
	return &specs.Spec{
		Version: specs.Version,
		Annotations: map[string]string{
			"org.set-io.kboot.mode": "test",
		},
		VM: &specs.VM{
			Hypervisor: specs.VMHypervisor{
				Path: DefaultQEMU,
				Parameters: []string{
					"backend=qemu",
					"format=raw",
					"memory=256M",
					"timeout=300s",
				},
			},
			Kernel: specs.VMKernel{
				Path: "kernel.img",
			},
		},
	}
}
