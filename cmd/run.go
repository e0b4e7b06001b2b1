package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/set-io/kboot/runner"
)

var runCommand = cli.Command{
	Name:  "run",
	Usage: "boot a kernel and stream its serial console",
	Description: `The run command boots the image without test semantics. The serial console
is copied to stdout until the kernel halts, exits through isa-debug-exit or
runs past --timeout. A panic banner on the console makes the run fail.`,
	Flags: bootFlags,
	Action: func(ctx *cli.Context) error {
		if err := checkArgs(ctx, 0, exactArgs); err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, false)
		if err != nil {
			return err
		}
		sig, cancel := signalContext()
		defer cancel()

		res, err := runner.Run(sig, cfg, os.Stdout)
		if err != nil {
			return fmt.Errorf("kboot run failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "kboot: %s\n", res.Outcome)
		os.Exit(res.Outcome.ExitCode())
		return nil
	},
}
