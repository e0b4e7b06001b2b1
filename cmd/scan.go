package cmd

import (
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/set-io/kboot/testlog"
)

var scanCommand = cli.Command{
	Name:      "scan",
	Usage:     "summarize a saved serial log",
	ArgsUsage: `[file]

Where "[file]" is a serial log captured from a test kernel. Standard input
is read when it is omitted.`,
	Action: func(ctx *cli.Context) error {
		if err := checkArgs(ctx, 1, maxArgs); err != nil {
			return err
		}
		var in io.Reader = os.Stdin
		if name := ctx.Args().First(); name != "" && name != "-" {
			f, err := os.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		r, err := testlog.Parse(in)
		if err != nil {
			return err
		}
		if err := r.Write(os.Stdout, testlog.ColorFor(os.Stdout)); err != nil {
			return err
		}
		if !r.Complete() {
			return cli.NewExitError("", 1)
		}
		return nil
	},
}
