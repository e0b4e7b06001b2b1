package machine

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HostedEntry reports whether r is an ELF program that enters through a Go
// runtime start symbol for Linux, such as _rt0_amd64_linux. Such an image
// expects the process environment the KVM backend provides and cannot be
// booted by firmware.
func HostedEntry(r io.ReaderAt) (bool, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotELF64File, err)
	}
	syms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, s := range syms {
		if s.Value == f.Entry && strings.HasPrefix(s.Name, "_rt0_") && strings.HasSuffix(s.Name, "_linux") {
			return true, nil
		}
	}
	return false, nil
}
