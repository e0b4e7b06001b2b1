package runner

import (
	"context"
	"io"
	"os"

	"github.com/set-io/kboot/machine"
	"github.com/set-io/kboot/utils"
)

// minKVMKernel is the first release with kvm_run.immediate_exit, which the
// timeout relies on.
const minKVMKernel = "4.11.0"

// kvmTimerTicks bounds the timer interrupts a halted guest is given.
const kvmTimerTicks = 64

func runKVM(ctx context.Context, cfg *Config, w io.Writer) (*Result, error) {
	if err := utils.CheckKernelVersion(minKVMKernel); err != nil {
		return nil, err
	}
	f, err := os.Open(cfg.Kernel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vm, err := machine.NewKVM(cfg.Memory, w)
	if err != nil {
		return nil, err
	}
	defer vm.Close()

	vm.SetArgs(cfg.Args)
	vm.Timer = kvmTimerTicks
	if err := vm.LoadELF(f); err != nil {
		return nil, err
	}
	return fromMachine(vm.Run(ctx)), nil
}
