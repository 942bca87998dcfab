// Package domain holds the core entities of protocold: projects, protocol
// runs, step runs, and their status state machines.
//
// Status transitions are guarded: every mutating call names the status it
// expects to overwrite, and the store applies the change as a compare-and-swap.
// A mismatch surfaces as a ConflictError and performs no mutation, which is
// what makes concurrent dispatcher invocations against the same run safe
// without locks.
package domain
