package machine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/set-io/kboot/kernel"
)

// DefaultVectorBase is where Sim's vector table expects the PIC lines once
// the guest has loaded it.
const DefaultVectorBase = 32

// Result describes why a run ended.
type Result struct {
	Reason Exit

	// Exited is set when the guest wrote the debug-exit device.
	Exited bool
	Value  uint32
	Status int

	// Halted is set when the CPU stopped with nothing left to wake it.
	Halted bool

	Err error
}

func (r Result) String() string {
	switch {
	case r.Exited:
		return fmt.Sprintf("%v: debug exit %#x (status %d)", r.Reason, r.Value, r.Status)
	case r.Err != nil:
		return fmt.Sprintf("%v: %v", r.Reason, r.Err)
	case r.Halted:
		return fmt.Sprintf("%v: halted", r.Reason)
	}
	return r.Reason.String()
}

// Sim is an in-process board. Guest code runs as Go code on its own
// goroutine and reaches the hardware through Sim's kernel.CPU and
// kernel.Port methods, which drive the same device models a KVM guest
// would use. Pending interrupts are delivered when interrupts are enabled,
// on halt and after every port access.
//
// A Sim runs once.
type Sim struct {
	Bus    *Bus
	Serial *Serial
	PIC    *PIC
	Post   *PostCode

	// VectorBase is the first vector the loaded table routes to the IRQ
	// handler; sixteen vectors follow it.
	VectorBase uint8

	// Timer is the number of timer interrupts raised on IRQ0 while the CPU
	// sits in hlt, one per halt.
	Timer int

	mu       sync.Mutex
	ifFlag   bool
	handler  kernel.IRQHandler
	vectors  map[uint8]bool
	events   []string
	gdtLoads int
	halts    int

	running   atomic.Bool
	cancelled atomic.Bool
	done      chan Result
	stopped   bool

	// closed is set under mu once Run has given up on the guest. Device
	// output is dropped from then on.
	closed bool
}

// simOutput forwards device output until the run is abandoned.
type simOutput struct {
	s *Sim
	w io.Writer
}

func (o simOutput) Write(p []byte) (int, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.closed {
		return len(p), nil
	}
	return o.w.Write(p)
}

// NewSim returns a board whose COM1 output goes to out.
func NewSim(out io.Writer) *Sim {
	if out == nil {
		out = io.Discard
	}
	s := &Sim{
		Bus:        NewBus(),
		PIC:        NewPIC(),
		Post:       &PostCode{},
		VectorBase: DefaultVectorBase,
		vectors:    map[uint8]bool{},
		done:       make(chan Result, 1),
	}
	s.Serial = NewSerial(simOutput{s: s, w: out})
	s.PIC.Register(s.Bus)
	s.Bus.Attach(s.Serial)
	s.Bus.Attach(&DebugExit{})
	s.Bus.Attach(s.Post)
	s.Bus.Attach(&FWDebug{})
	return s
}

// Run executes entry as guest code and waits for the guest to stop or ctx
// to expire. A guest stuck in a loop that never touches the board cannot
// be stopped; its goroutine is abandoned when ctx expires. Nothing reaches
// the output writer after Run returns.
func (s *Sim) Run(ctx context.Context, entry func()) Result {
	if !s.running.CompareAndSwap(false, true) {
		return Result{Reason: EXITUNKNOWN, Err: ErrAlreadyRunning}
	}

	go func() {
		defer func() {
			if s.stopped {
				return
			}
			if r := recover(); r != nil {
				s.done <- Result{Reason: EXITSHUTDOWN, Err: fmt.Errorf("%w: %v", ErrGuestPanic, r)}
				return
			}
			s.done <- Result{Reason: EXITSHUTDOWN, Err: ErrGuestReturned}
		}()
		entry()
	}()

	select {
	case r := <-s.done:
		return r
	case <-ctx.Done():
		s.cancelled.Store(true)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		return Result{Reason: EXITINTR, Err: fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())}
	}
}

// stop ends the guest goroutine with r.
func (s *Sim) stop(r Result) {
	s.stopped = true
	if !s.cancelled.Load() {
		s.done <- r
	}
	runtime.Goexit()
}

func (s *Sim) checkCancelled() {
	if s.cancelled.Load() {
		s.stopped = true
		runtime.Goexit()
	}
}

func (s *Sim) record(ev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns the privileged operations the guest performed, in order.
func (s *Sim) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// Raise asserts IRQ line irq.
func (s *Sim) Raise(irq int) { s.PIC.Raise(irq) }

// Halts returns the number of hlt instructions executed.
func (s *Sim) Halts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halts
}

// deliver dispatches at most one pending interrupt.
func (s *Sim) deliver() {
	s.checkCancelled()
	if !s.ifFlag || !s.PIC.Pending() {
		return
	}
	vector, ok := s.PIC.Acknowledge()
	if !ok {
		return
	}
	s.mu.Lock()
	installed := s.vectors[vector]
	h := s.handler
	s.mu.Unlock()
	if !installed || h == nil {
		s.stop(Result{
			Reason: EXITSHUTDOWN,
			Err:    fmt.Errorf("%w: vector %d", ErrUnhandledVector, vector),
		})
	}

	// interrupt gates clear IF; iretq restores it
	s.ifFlag = false
	h(vector)
	s.ifFlag = true
}

func (s *Sim) EnableInterrupts() {
	s.record("sti")
	s.ifFlag = true
	s.deliver()
}

func (s *Sim) DisableInterrupts() {
	s.record("cli")
	s.ifFlag = false
}

func (s *Sim) InterruptsEnabled() bool { return s.ifFlag }

func (s *Sim) Halt() {
	s.checkCancelled()
	s.mu.Lock()
	s.halts++
	s.mu.Unlock()

	if s.ifFlag && !s.PIC.Pending() && s.Timer > 0 {
		s.Timer--
		s.PIC.Raise(0)
	}
	if !s.ifFlag || !s.PIC.Pending() {
		s.stop(Result{Reason: EXITHLT, Halted: true})
	}
	s.deliver()
}

func (s *Sim) access(err error) {
	if err == nil {
		s.deliver()
		return
	}
	var ge *GuestExit
	if errors.As(err, &ge) {
		s.stop(Result{Reason: EXITIO, Exited: true, Value: ge.Value, Status: ge.Status})
	}
	s.stop(Result{Reason: EXITIO, Err: err})
}

func (s *Sim) In8(port uint16) uint8 {
	s.checkCancelled()
	var b [1]byte
	s.access(s.Bus.In(uint64(port), b[:]))
	return b[0]
}

func (s *Sim) Out8(port uint16, v uint8) {
	s.checkCancelled()
	if (port == picMasterAddr || port == picSlaveAddr) && v&0x10 != 0 {
		s.record(fmt.Sprintf("icw1 %#x", port))
	}
	s.access(s.Bus.Out(uint64(port), []byte{v}))
}

func (s *Sim) Out32(port uint16, v uint32) {
	s.checkCancelled()
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.access(s.Bus.Out(uint64(port), b[:]))
}

// Tables returns the descriptor table collaborator.
func (s *Sim) Tables() kernel.DescriptorTables { return simTables{s} }

// GDTLoads returns how many times the descriptor tables were loaded.
func (s *Sim) GDTLoads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gdtLoads
}

type simTables struct{ s *Sim }

func (t simTables) Load() {
	t.s.checkCancelled()
	t.s.record("lgdt")
	t.s.mu.Lock()
	t.s.gdtLoads++
	t.s.mu.Unlock()
}

// IDT returns a vector table that routes the sixteen PIC vectors starting
// at VectorBase to handler once loaded.
func (s *Sim) IDT(handler kernel.IRQHandler) kernel.InterruptVectors {
	return simVectors{s: s, handler: handler}
}

type simVectors struct {
	s       *Sim
	handler kernel.IRQHandler
}

func (v simVectors) Load() {
	v.s.checkCancelled()
	v.s.record("lidt")
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.handler = v.handler
	v.s.vectors = map[uint8]bool{}
	for i := 0; i < 16; i++ {
		v.s.vectors[v.s.VectorBase+uint8(i)] = true
	}
}

// Installed reports whether vector is routed to a handler.
func (s *Sim) Installed(vector uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vectors[vector]
}
