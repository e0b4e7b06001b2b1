//go:build !(linux && amd64)

package machine

import (
	"context"
	"io"
)

// KVM needs linux/amd64; elsewhere NewKVM always fails.
type KVM struct {
	Bus    *Bus
	Serial *Serial
	PIC    *PIC
	Post   *PostCode
	Timer  int
}

func NewKVM(memSize int, out io.Writer) (*KVM, error) {
	return nil, ErrUnsupported
}

func (k *KVM) SetArgs(args []string) {}

func (k *KVM) LoadELF(r io.ReaderAt) error { return ErrUnsupported }

func (k *KVM) Run(ctx context.Context) Result {
	return Result{Reason: EXITUNKNOWN, Err: ErrUnsupported}
}

func (k *KVM) Close() error { return nil }
