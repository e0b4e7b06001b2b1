// Package cpu wraps the privileged x86_64 instructions the kernel core needs.
//
// The functions only work in ring 0 of a freestanding image; calling them
// from a hosted process faults. Hosted code uses machine.Sim instead.
package cpu
