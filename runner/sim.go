package runner

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/set-io/kboot/kernel"
	"github.com/set-io/kboot/kernel/boot"
	"github.com/set-io/kboot/kernel/selftest"
	"github.com/set-io/kboot/machine"
	"github.com/set-io/kboot/testlog"
)

// SimOptions configures an in-process run of the kernel core.
type SimOptions struct {
	Mode kernel.Mode
	// Ticks is the number of timer interrupts the board delivers while the
	// kernel idles. A non-zero value also enables the timer self test.
	Ticks int
	// Fail appends a failing self test with this name.
	Fail    string
	Timeout time.Duration
}

// SimBoard wires a Sim into a boot board.
func SimBoard(s *machine.Sim) *boot.Board {
	return &boot.Board{
		CPU:     s,
		Port:    s,
		Tables:  s.Tables(),
		Vectors: s.IDT,
	}
}

// RunSim boots the kernel core on the simulated board. Test mode runs the
// self tests, normal mode prints a greeting and idles.
func RunSim(ctx context.Context, opts SimOptions, out io.Writer) (*Result, error) {
	if out == nil {
		out = io.Discard
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	parser := testlog.NewParser()
	s := machine.NewSim(io.MultiWriter(out, parser))
	s.Timer = opts.Ticks
	sys := boot.New(SimBoard(s), opts.Mode)

	entry := func() {
		sys.Kernel.Main(func() { sys.Serial.WriteString("Hello World!\n") })
	}
	if opts.Mode == kernel.Test {
		tests := selftest.Suite(sys, selftest.Options{Timer: opts.Ticks > 0, Fail: opts.Fail})
		entry = func() { sys.Kernel.TestMain(tests) }
	}

	start := time.Now()
	mr := s.Run(ctx, entry)
	_ = parser.Close()

	res := fromMachine(mr)
	res.Elapsed = time.Since(start)
	res.Report = parser.Report()
	res.Outcome = classify(opts.Mode == kernel.Test, res)
	return res, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, machine.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
