package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/set-io/kboot/runner"
	"github.com/set-io/kboot/utils"
)

const (
	exactArgs = iota
	minArgs
	maxArgs
)

func checkArgs(ctx *cli.Context, expected, checkType int) error {
	var err error
	cmdName := ctx.Command.Name
	switch checkType {
	case exactArgs:
		if ctx.NArg() != expected {
			err = fmt.Errorf("%s: %q requires exactly %d argument(s)", os.Args[0], cmdName, expected)
		}
	case minArgs:
		if ctx.NArg() < expected {
			err = fmt.Errorf("%s: %q requires a minimum of %d argument(s)", os.Args[0], cmdName, expected)
		}
	case maxArgs:
		if ctx.NArg() > expected {
			err = fmt.Errorf("%s: %q requires a maximum of %d argument(s)", os.Args[0], cmdName, expected)
		}
	}
	if err != nil {
		fmt.Printf("Incorrect Usage.\n\n")
		_ = cli.ShowCommandHelp(ctx, cmdName)
		return err
	}
	return nil
}

// bootFlags are shared by the commands that boot an image.
var bootFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "bundle, b",
		Value: "",
		Usage: `path to the root of the bundle directory, defaults to the current directory`,
	},
	cli.StringFlag{
		Name:  "kernel, k",
		Usage: "kernel image to boot, overrides the bundle",
	},
	cli.StringFlag{
		Name:  "backend",
		Usage: "what boots the image ('qemu' or 'kvm')",
	},
	cli.StringFlag{
		Name:  "format",
		Usage: "image format handed to qemu ('raw' or 'elf')",
	},
	cli.StringFlag{
		Name:  "memory, m",
		Usage: "guest memory, in MiB unless suffixed with K, M or G",
	},
	cli.DurationFlag{
		Name:  "timeout, t",
		Usage: "host-side limit on the whole run",
	},
	cli.StringFlag{
		Name:  "qemu",
		Usage: "path of the qemu binary",
	},
}

// loadConfig reads the bundle unless only a kernel was given, then applies
// the flags on top.
func loadConfig(ctx *cli.Context, test bool) (*runner.Config, error) {
	cfg := &runner.Config{Hooks: make(runner.Hooks)}
	if ctx.IsSet("bundle") || !ctx.IsSet("kernel") {
		c, err := runner.LoadBundle(ctx.String("bundle"))
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if ctx.IsSet("kernel") {
		cfg.Kernel = ctx.String("kernel")
	}
	if ctx.IsSet("backend") {
		cfg.Backend = runner.Backend(ctx.String("backend"))
	}
	if ctx.IsSet("format") {
		cfg.Format = ctx.String("format")
	}
	if ctx.IsSet("memory") {
		m, err := utils.ParseSize(ctx.String("memory"), "M")
		if err != nil {
			return nil, fmt.Errorf("--memory: %w", err)
		}
		cfg.Memory = m
	}
	if ctx.IsSet("timeout") {
		cfg.Timeout = ctx.Duration("timeout")
	}
	if ctx.IsSet("qemu") {
		cfg.QEMU = ctx.String("qemu")
	}
	cfg.Test = test
	cfg.Debug = ctx.GlobalBool("debug")
	return cfg, cfg.Validate()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
}
