// Package connref provides an atomically reference-counted handle to a
// per-client connection identifier. The broker hands out a Ref with every
// Response it constructs and never owns the underlying connection itself;
// Ref lets multiple goroutines (the broker, the connection's writer, any
// logging that outlives the synchronous call) share it safely and run a
// cleanup exactly once when the last holder is done.
package connref

import (
	"log/slog"
	"sync/atomic"
)

// Ref is a shared-ownership handle to an opaque per-client value. The zero
// Ref is not usable; construct one with NewRef.
type Ref struct {
	id      string
	count   *atomic.Int64
	cleanup func()
}

// NewRef wraps id (typically a connection ID or remote address) in a Ref
// with its reference count starting at 1. cleanup, if non-nil, runs
// exactly once, when the count reaches zero.
func NewRef(id string, cleanup func()) *Ref {
	count := &atomic.Int64{}
	count.Store(1)
	return &Ref{id: id, count: count, cleanup: cleanup}
}

// ID returns the opaque identifier this Ref was constructed with.
func (r *Ref) ID() string {
	return r.id
}

// Clone increments the shared reference count and returns a new *Ref over
// the same underlying counter and cleanup. The broker calls this exactly
// once per Response it constructs, so every Response carries its own Ref
// that must be Released independently of the one the connection holds.
func (r *Ref) Clone() *Ref {
	r.count.Add(1)
	return &Ref{id: r.id, count: r.count, cleanup: r.cleanup}
}

// Release decrements the shared reference count and runs cleanup once it
// reaches zero. Calling Release more times than the Ref was cloned (plus
// the initial NewRef) is a programmer error: it is logged, not panicked,
// matching the broker's distinction between fatal mutex-held failures and
// recoverable resource-bookkeeping ones.
func (r *Ref) Release() {
	n := r.count.Add(-1)
	switch {
	case n == 0:
		if r.cleanup != nil {
			r.cleanup()
		}
	case n < 0:
		slog.Error("connref: Release called past zero", "id", r.id, "count", n)
	}
}

// Count reports the current reference count, for tests and diagnostics
// only — callers must not use it to decide whether to Release.
func (r *Ref) Count() int64 {
	return r.count.Load()
}
