package kernel

import (
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

// Testable is one in-kernel test. A test passes by returning; it fails by
// panicking.
type Testable interface {
	Name() string
	Run()
}

// TestFunc makes any zero-argument function a Testable named after its
// declaration.
type TestFunc func()

func (f TestFunc) Run() { f() }

func (f TestFunc) Name() string {
	fn := runtime.FuncForPC(reflect.ValueOf(f).Pointer())
	if fn == nil {
		return "unknown"
	}
	return shortName(fn.Name())
}

type named struct {
	name string
	fn   func()
}

func (n named) Name() string { return n.name }
func (n named) Run()         { n.fn() }

// Named gives fn an explicit name, for closures whose generated names are
// not meaningful.
func Named(name string, fn func()) Testable {
	return named{name: name, fn: fn}
}

// Tests builds a registry in declaration order.
func Tests(fns ...func()) []Testable {
	ts := make([]Testable, 0, len(fns))
	for _, fn := range fns {
		ts = append(ts, TestFunc(fn))
	}
	return ts
}

// shortName turns "github.com/x/y/pkg.(*T).M-fm" into "pkg.(*T).M".
func shortName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// RunTests runs every test in order and signals Success once all of them
// returned. The first panicking test is reported by Recover, which signals
// Failed and halts; later tests never run.
func (k *Kernel) RunTests(tests []Testable) {
	defer k.Recover()

	c := k.Console
	c.WriteString("Running " + strconv.Itoa(len(tests)) + " tests\n")
	for _, t := range tests {
		c.WriteString(t.Name())
		c.WriteString("...\t")
		t.Run()
		c.WriteString("[ok]\n")
	}
	Exit(k.Port, Success)
}

// TestMain is the entry point of a test image: boot, run the registry, idle.
func (k *Kernel) TestMain(tests []Testable) {
	defer k.Recover()

	k.Init()
	k.RunTests(tests)
	k.HltLoop()
}
