package kernel

import (
	"bytes"
	"runtime"
	"sync"
	"testing"
	"time"
)

// testBoard records everything the core does to the hardware. Halt ends the
// calling goroutine, which is how "never returns" is observed in tests.
type testBoard struct {
	mu     sync.Mutex
	events []string
	ifFlag bool
	out    bytes.Buffer
	exits  []uint32
	halts  int
}

func (b *testBoard) record(ev string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *testBoard) EnableInterrupts() {
	b.record("sti")
	b.ifFlag = true
}

func (b *testBoard) DisableInterrupts() {
	b.record("cli")
	b.ifFlag = false
}

func (b *testBoard) InterruptsEnabled() bool { return b.ifFlag }

func (b *testBoard) Halt() {
	b.mu.Lock()
	b.halts++
	b.mu.Unlock()
	runtime.Goexit()
}

func (b *testBoard) In8(port uint16) uint8      { return 0 }
func (b *testBoard) Out8(port uint16, v uint8) {}

func (b *testBoard) Out32(port uint16, v uint32) {
	if port == ExitPort {
		b.mu.Lock()
		b.exits = append(b.exits, v)
		b.mu.Unlock()
	}
}

func (b *testBoard) Write(p []byte) (int, error)       { return b.out.Write(p) }
func (b *testBoard) WriteString(s string) (int, error) { return b.out.WriteString(s) }

type step struct {
	name  string
	board *testBoard
}

func (s *step) Load()       { s.board.record(s.name) }
func (s *step) Initialize() { s.board.record(s.name) }

func newTestKernel(mode Mode) (*Kernel, *testBoard) {
	b := &testBoard{}
	k := &Kernel{
		CPU:     b,
		Port:    b,
		Console: b,
		Tables:  &step{name: "gdt", board: b},
		Vectors: &step{name: "idt", board: b},
		PICs:    NewGuarded[InterruptController](&step{name: "pic", board: b}),
		Mode:    mode,
	}
	return k, b
}

// runGuest runs fn on its own goroutine and waits for it to return or halt.
func runGuest(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("guest did not finish")
	}
}
