package kernel

import "sync"

// Guarded owns a value that is shared with interrupt context, such as the
// interrupt controller. All access goes through With.
type Guarded[T any] struct {
	mu sync.Mutex
	v  T
}

// NewGuarded wraps v. The caller must not keep other references to v.
func NewGuarded[T any](v T) *Guarded[T] {
	return &Guarded[T]{v: v}
}

// With runs fn with exclusive access to the value and interrupts disabled.
// The previous interrupt state is restored and the lock released even if fn
// panics. There is only one core, so finding the lock held means With was
// re-entered from an interrupt handler; that is a bug and panics instead of
// deadlocking.
func (g *Guarded[T]) With(cpu CPU, fn func(T)) {
	enabled := cpu.InterruptsEnabled()
	if enabled {
		cpu.DisableInterrupts()
		defer cpu.EnableInterrupts()
	}

	if !g.mu.TryLock() {
		panic("kernel: guarded resource already held")
	}
	defer g.mu.Unlock()

	fn(g.v)
}
