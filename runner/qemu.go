package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/set-io/kboot/machine"
)

// QEMUArgs is the command line for cfg, without the binary.
func QEMUArgs(cfg *Config) []string {
	var args []string
	switch cfg.Format {
	case FormatELF:
		args = append(args, "-kernel", cfg.Kernel)
	default:
		args = append(args, "-drive", "format=raw,file="+cfg.Kernel)
	}
	args = append(args,
		"-m", strconv.Itoa(cfg.Memory>>20)+"M",
		"-device", "isa-debug-exit,iobase="+hex(machine.DebugExitAddr)+",iosize=0x04",
		"-serial", "stdio",
		"-display", "none",
		"-no-reboot",
	)
	return append(args, cfg.Args...)
}

func hex(v int) string { return "0x" + strconv.FormatInt(int64(v), 16) }

func runQEMU(ctx context.Context, cfg *Config, w io.Writer) (*Result, error) {
	if cfg.Format == FormatELF {
		if err := checkBootable(cfg.Kernel); err != nil {
			return nil, err
		}
	}
	cmd := exec.Command(cfg.QEMU, QEMUArgs(cfg)...)
	cmd.Stdin = nil
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	setpgid(cmd)
	if debug {
		log.Printf("exec %s %v", cfg.QEMU, cmd.Args[1:])
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.QEMU, err)
	}

	var g errgroup.Group
	copied := make(chan struct{})
	timedOut := false
	g.Go(func() error {
		defer close(copied)
		_, err := io.Copy(w, stdout)
		return err
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			timedOut = true
			return killGroup(cmd)
		case <-copied:
			return nil
		}
	})
	copyErr := g.Wait()
	waitErr := cmd.Wait()

	res, err := qemuResult(timedOut, waitErr, cmd.ProcessState)
	if err != nil {
		return nil, err
	}
	if copyErr != nil && !res.TimedOut {
		return nil, fmt.Errorf("read serial output: %w", copyErr)
	}
	return res, nil
}

// checkBootable refuses ELF images that enter through the Go runtime's
// Linux start symbol. Firmware cannot give them a process to run in.
// Other kernels QEMU accepts with -kernel are passed through.
func checkBootable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	hosted, err := machine.HostedEntry(f)
	if errors.Is(err, machine.ErrNotELF64File) {
		return nil
	}
	if err != nil {
		return err
	}
	if hosted {
		return fmt.Errorf("%w: %s", ErrHostedImage, path)
	}
	return nil
}

// qemuResult decides the outcome once QEMU is gone. A process that exited
// on its own keeps its status even if the deadline fired meanwhile; only
// one that had to be killed counts as timed out.
func qemuResult(timedOut bool, waitErr error, state *os.ProcessState) (*Result, error) {
	if waitErr != nil {
		var ee *exec.ExitError
		if !errors.As(waitErr, &ee) {
			return nil, waitErr
		}
	}
	if state == nil || !state.Exited() {
		if timedOut {
			return &Result{TimedOut: true, Err: machine.ErrTimeout}, nil
		}
		return fromQEMUStatus(-1), nil
	}
	return fromQEMUStatus(state.ExitCode()), nil
}

func fromQEMUStatus(status int) *Result {
	r := &Result{Status: status}
	if _, v := FromQEMUStatus(status); status > 0 && status&1 == 1 {
		r.Exited = true
		r.Value = v
		return r
	}
	r.Err = fmt.Errorf("%w: qemu exited with status %d", machine.ErrUnexpectedExitReason, status)
	return r
}
