package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/set-io/kboot/runner"
	"github.com/set-io/kboot/testlog"
)

var testCommand = cli.Command{
	Name:  "test",
	Usage: "boot a test kernel and report its self tests",
	Description: `The test command boots the image named by the bundle (or --kernel) and
waits for it to report through the isa-debug-exit device. It exits 0 when
every test passed, 1 when a test failed and 2 when the kernel stopped in
any other way or ran past --timeout.`,
	Flags: append([]cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "copy the serial console to stdout while the kernel runs",
		},
	}, bootFlags...),
	Action: func(ctx *cli.Context) error {
		if err := checkArgs(ctx, 0, exactArgs); err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, true)
		if err != nil {
			return err
		}
		sig, cancel := signalContext()
		defer cancel()

		var out io.Writer
		if ctx.Bool("verbose") {
			out = os.Stdout
		}
		res, err := runner.Run(sig, cfg, out)
		if err != nil {
			return fmt.Errorf("kboot test failed: %w", err)
		}
		report(res)
		os.Exit(res.Outcome.ExitCode())
		return nil
	},
}

func report(res *runner.Result) {
	color := testlog.ColorFor(os.Stdout)
	if res.Report != nil {
		_ = res.Report.Write(os.Stdout, color)
	}
	fmt.Printf("%s after %v", res.Outcome, res.Elapsed.Round(time.Millisecond))
	switch {
	case res.Exited:
		fmt.Printf(" (exit value %#x)", res.Value)
	case res.Err != nil:
		fmt.Printf(" (%v)", res.Err)
	}
	fmt.Println()
}
