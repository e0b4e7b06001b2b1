package cmd

import (
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/urfave/cli"

	"github.com/set-io/kboot/runner"
)

const SpecConfig = runner.SpecConfig

func Execute(name, usage, version, commit string) {
	app := cli.NewApp()
	app.Name = name
	app.Usage = usage

	v := []string{version}
	if commit != "" {
		v = append(v, "commit: "+commit)
	}
	v = append(v, "go: "+runtime.Version())
	app.Version = strings.Join(v, "\n")

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "set the log file to write kboot logs to (default is '/dev/stderr')",
		},
	}
	app.Commands = []cli.Command{
		testCommand,
		runCommand,
		selftestCommand,
		scanCommand,
		specCommand,
	}

	var logFile *os.File
	app.Before = func(ctx *cli.Context) error {
		if ctx.GlobalBool("debug") {
			runner.DebugEnabled()
		}
		if ctx.IsSet("log") {
			f, err := os.OpenFile(ctx.String("log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
			if err != nil {
				return err
			}
			logFile = f
			log.SetOutput(f)
		}
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
