package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/set-io/kboot/runner"
)

var specCommand = cli.Command{
	Name:      "spec",
	Usage:     "create a new specification file",
	ArgsUsage: "",
	Description: `The spec command creates the new specification file named "` + SpecConfig + `" for
the bundle.

The spec generated is just a starter file. Its vm section names the kernel
image (relative to the bundle), the qemu binary and the hypervisor
parameters kboot understands: backend, format, memory and timeout. Kernel
parameters are appended to the qemu command line.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "bundle, b",
			Value: "",
			Usage: "path to the root of the bundle directory",
		},
		cli.StringFlag{
			Name:  "kernel, k",
			Usage: "kernel image path to put in the spec",
		},
	},
	Action: func(ctx *cli.Context) error {
		if err := checkArgs(ctx, 0, exactArgs); err != nil {
			return err
		}
		spec := runner.DefaultSpec()
		if k := ctx.String("kernel"); k != "" {
			spec.VM.Kernel.Path = k
		}
		name := filepath.Join(ctx.String("bundle"), SpecConfig)
		if _, err := os.Stat(name); err == nil {
			return fmt.Errorf("file %s exists. remove it first", name)
		} else if !os.IsNotExist(err) {
			return err
		}
		data, err := json.MarshalIndent(spec, "", "\t")
		if err != nil {
			return err
		}
		return os.WriteFile(name, data, 0o666)
	},
}
