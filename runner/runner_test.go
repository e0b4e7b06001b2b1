package runner

import (
	"errors"
	"reflect"
	"testing"

	"github.com/set-io/kboot/machine"
	"github.com/set-io/kboot/testlog"
)

func report(declared int, ok ...string) *testlog.Report {
	r := &testlog.Report{Declared: declared}
	for _, name := range ok {
		r.Cases = append(r.Cases, testlog.Case{Name: name, Passed: true})
	}
	return r
}

func TestClassify(t *testing.T) {
	failure := report(-1)
	failure.Failure = &testlog.Failure{Message: "boom"}

	tests := []struct {
		name string
		test bool
		res  Result
		want Outcome
	}{
		{"timeout", true, Result{TimedOut: true, Report: report(-1)}, TimedOut},
		{"normal timeout", false, Result{TimedOut: true, Report: report(-1)}, TimedOut},
		{"success all ok", true, Result{Exited: true, Value: 0x10, Report: report(2, "a", "b")}, Passed},
		{"success missing ok", true, Result{Exited: true, Value: 0x10, Report: report(3, "a", "b")}, Unexpected},
		{"success nothing declared", true, Result{Exited: true, Value: 0x10, Report: report(-1)}, Passed},
		{"failed", true, Result{Exited: true, Value: 0x11, Report: report(2, "a")}, Failed},
		{"other value", true, Result{Exited: true, Value: 0x12, Report: report(-1)}, Unexpected},
		{"test halted", true, Result{Halted: true, Report: report(-1)}, Unexpected},
		{"normal halted", false, Result{Halted: true, Report: report(-1)}, Halted},
		{"normal panic", false, Result{Halted: true, Report: failure}, Failed},
		{"shutdown", false, Result{Err: machine.ErrUnhandledVector, Report: report(-1)}, Unexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.test, &tt.res); got != tt.want {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromQEMUStatus(t *testing.T) {
	tests := []struct {
		status  int
		outcome Outcome
		exited  bool
		value   uint32
	}{
		{33, Passed, true, 0x10},
		{35, Failed, true, 0x11},
		{1, Unexpected, true, 0},
		{0, Unexpected, false, 0},
		{2, Unexpected, false, 0},
		{-1, Unexpected, false, 0},
	}
	for _, tt := range tests {
		o, v := FromQEMUStatus(tt.status)
		if o != tt.outcome || v != tt.value {
			t.Errorf("FromQEMUStatus(%d) = %v, %#x; want %v, %#x", tt.status, o, v, tt.outcome, tt.value)
		}
		r := fromQEMUStatus(tt.status)
		if r.Exited != tt.exited {
			t.Errorf("fromQEMUStatus(%d).Exited = %v", tt.status, r.Exited)
		}
		if !r.Exited && !errors.Is(r.Err, machine.ErrUnexpectedExitReason) {
			t.Errorf("fromQEMUStatus(%d).Err = %v", tt.status, r.Err)
		}
	}
}

func TestOutcomeExitCode(t *testing.T) {
	want := map[Outcome]int{Passed: 0, Halted: 0, Failed: 1, Unexpected: 2, TimedOut: 2}
	for o, code := range want {
		if got := o.ExitCode(); got != code {
			t.Errorf("%v.ExitCode() = %d, want %d", o, got, code)
		}
	}
}

func TestQEMUArgs(t *testing.T) {
	cfg := &Config{Kernel: "/tmp/kernel.img", Args: []string{"-s"}}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"-drive", "format=raw,file=/tmp/kernel.img",
		"-m", "256M",
		"-device", "isa-debug-exit,iobase=0xf4,iosize=0x04",
		"-serial", "stdio",
		"-display", "none",
		"-no-reboot",
		"-s",
	}
	if got := QEMUArgs(cfg); !reflect.DeepEqual(got, want) {
		t.Errorf("QEMUArgs() =\n%q\nwant\n%q", got, want)
	}

	cfg.Format = FormatELF
	if got := QEMUArgs(cfg); got[0] != "-kernel" || got[1] != cfg.Kernel {
		t.Errorf("elf image args start with %q", got[:2])
	}
}

func TestFromMachine(t *testing.T) {
	r := fromMachine(machine.Result{Reason: machine.EXITINTR, Err: machine.ErrTimeout})
	if !r.TimedOut {
		t.Error("timeout not recognised")
	}
	r = fromMachine(machine.Result{Reason: machine.EXITSHUTDOWN})
	if !errors.Is(r.Err, machine.ErrUnexpectedExitReason) {
		t.Errorf("Err = %v", r.Err)
	}
	r = fromMachine(machine.Result{Reason: machine.EXITIO, Exited: true, Value: 0x10, Status: 33})
	if !r.Exited || r.Value != 0x10 || r.Status != 33 || r.Err != nil {
		t.Errorf("result = %+v", r)
	}
}
