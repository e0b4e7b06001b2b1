// Package runner boots kernel images and decides whether they passed.
package runner

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/opencontainers/runtime-spec/specs-go"

	"github.com/set-io/kboot/machine"
	"github.com/set-io/kboot/testlog"
)

var debug bool

// DebugEnabled turns on debug logging for runs and their devices.
func DebugEnabled() {
	debug = true
	machine.DebugEnabled()
}

// Result is a finished run.
type Result struct {
	Outcome Outcome

	// Exited is set when the guest wrote the debug-exit device.
	Exited bool
	Value  uint32
	Status int

	Halted   bool
	TimedOut bool
	// Err describes how the guest stopped when it neither exited nor
	// halted.
	Err error

	Report  *testlog.Report
	Elapsed time.Duration
}

// Run boots cfg.Kernel and waits for it to stop or for cfg.Timeout. Serial
// output is copied to out as it arrives and scraped for test results.
func Run(ctx context.Context, cfg *Config, out io.Writer) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		out = io.Discard
	}

	state := &specs.State{
		Version: specs.Version,
		ID:      filepath.Base(cfg.Kernel),
		Status:  specs.StateCreating,
		Bundle:  cfg.Bundle,
	}
	if err := cfg.Hooks.Run(PreStart, state); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	parser := testlog.NewParser()
	w := io.MultiWriter(out, parser)

	if debug {
		log.Printf("booting %s on %s, memory %d, timeout %v", cfg.Kernel, cfg.Backend, cfg.Memory, cfg.Timeout)
	}
	state.Status = specs.StateRunning
	if err := cfg.Hooks.Run(PostStart, state); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		res *Result
		err error
	)
	switch cfg.Backend {
	case KVM:
		res, err = runKVM(ctx, cfg, w)
	default:
		res, err = runQEMU(ctx, cfg, w)
	}
	_ = parser.Close()

	state.Status = specs.StateStopped
	if herr := cfg.Hooks.Run(PostStop, state); herr != nil {
		if err == nil {
			err = herr
		} else {
			log.Printf("%v", herr)
		}
	}
	if err != nil {
		return nil, err
	}

	res.Elapsed = time.Since(start)
	res.Report = parser.Report()
	res.Outcome = classify(cfg.Test, res)
	if debug {
		log.Printf("run finished: %v after %v", res.Outcome, res.Elapsed)
	}
	return res, nil
}

// classify decides the outcome once Report is filled in.
func classify(test bool, r *Result) Outcome {
	failed := r.Report != nil && r.Report.Failure != nil
	switch {
	case r.TimedOut:
		return TimedOut
	case r.Exited:
		o := Decode(r.Value)
		if test && o == Passed && r.Report != nil && r.Report.Declared >= 0 && !r.Report.Complete() {
			return Unexpected
		}
		return o
	case !test && failed:
		return Failed
	case r.Halted && !test:
		return Halted
	default:
		return Unexpected
	}
}

// fromMachine converts the result of an in-process backend.
func fromMachine(mr machine.Result) *Result {
	r := &Result{
		Exited: mr.Exited,
		Value:  mr.Value,
		Status: mr.Status,
		Halted: mr.Halted,
		Err:    mr.Err,
	}
	if !mr.Exited && !mr.Halted && mr.Err == nil {
		r.Err = machine.ErrUnexpectedExitReason
	}
	r.TimedOut = isTimeout(mr.Err)
	return r
}
