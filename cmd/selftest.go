package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/set-io/kboot/kernel"
	"github.com/set-io/kboot/runner"
)

var selftestCommand = cli.Command{
	Name:  "selftest",
	Usage: "run the kernel core on the simulated board",
	Description: `The selftest command runs the kernel core in process, against the same
device models the KVM backend uses. With --normal it performs a normal boot
instead of running the self tests.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "fail",
			Usage: "append a test with this name that always fails",
		},
		cli.IntFlag{
			Name:  "tick",
			Usage: "number of timer interrupts delivered while the kernel idles",
		},
		cli.BoolFlag{
			Name:  "normal",
			Usage: "boot normally instead of running the self tests",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "copy the serial console to stdout",
		},
		cli.DurationFlag{
			Name:  "timeout, t",
			Usage: "limit on the whole run",
		},
	},
	Action: func(ctx *cli.Context) error {
		if err := checkArgs(ctx, 0, exactArgs); err != nil {
			return err
		}
		opts := runner.SimOptions{
			Mode:    kernel.Test,
			Ticks:   ctx.Int("tick"),
			Fail:    ctx.String("fail"),
			Timeout: ctx.Duration("timeout"),
		}
		var out io.Writer
		if ctx.Bool("normal") {
			opts.Mode = kernel.Normal
			out = os.Stdout
		}
		if ctx.Bool("verbose") {
			out = os.Stdout
		}
		sig, cancel := signalContext()
		defer cancel()

		res, err := runner.RunSim(sig, opts, out)
		if err != nil {
			return fmt.Errorf("kboot selftest failed: %w", err)
		}
		if opts.Mode == kernel.Test {
			report(res)
		}
		os.Exit(res.Outcome.ExitCode())
		return nil
	},
}
