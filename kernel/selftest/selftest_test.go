package selftest

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/set-io/kboot/kernel"
	"github.com/set-io/kboot/kernel/boot"
	"github.com/set-io/kboot/machine"
)

func runSuite(t *testing.T, timer int, opts Options) (machine.Result, string) {
	t.Helper()
	var out bytes.Buffer
	s := machine.NewSim(&out)
	s.Timer = timer
	sys := boot.New(&boot.Board{
		CPU:     s,
		Port:    s,
		Tables:  s.Tables(),
		Vectors: s.IDT,
	}, kernel.Test)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r := s.Run(ctx, func() { sys.Kernel.TestMain(Suite(sys, opts)) })
	return r, out.String()
}

func TestSuitePasses(t *testing.T) {
	tests := []struct {
		name  string
		timer int
		opts  Options
		count int
	}{
		{"default", 0, Options{}, 7},
		{"with timer", 1, Options{Timer: true}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, out := runSuite(t, tt.timer, tt.opts)

			if !r.Exited || r.Value != uint32(kernel.Success) || r.Status != 33 {
				t.Fatalf("result = %v\n%s", r, out)
			}
			if !strings.HasPrefix(out, "Running "+strconv.Itoa(tt.count)+" tests\n") {
				t.Errorf("output = %q", out)
			}
			if n := strings.Count(out, "[ok]\n"); n != tt.count {
				t.Errorf("%d [ok] lines, want %d\n%s", n, tt.count, out)
			}
			if !strings.Contains(out, "serial_output...\ttest_println output\n[ok]\n") {
				t.Errorf("serial test output missing from %q", out)
			}
		})
	}
}

func TestSuiteInjectedFailure(t *testing.T) {
	r, out := runSuite(t, 0, Options{Fail: "should_fail"})

	if !r.Exited || r.Value != uint32(kernel.Failed) || r.Status != 35 {
		t.Fatalf("result = %v", r)
	}
	want := "should_fail...\t[failed]\n\n" +
		"Error: assertion failed: should_fail is set up to fail\n" +
		"at selftest/selftest.go:"
	if !strings.Contains(out, want) {
		t.Errorf("output = %q, want it to contain %q", out, want)
	}
	if n := strings.Count(out, "[ok]"); n != 7 {
		t.Errorf("%d [ok] lines, want 7", n)
	}
}

func TestTimerWithoutTicksHalts(t *testing.T) {
	r, out := runSuite(t, 0, Options{Timer: true})

	if !r.Halted || r.Exited {
		t.Errorf("result = %v, want the timer test to halt the board", r)
	}
	if !strings.HasSuffix(out, "timer_tick...\t") {
		t.Errorf("output = %q", out)
	}
}
