package core

import "sync/atomic"

// DefaultCredits is the credit bound used when a caller does not
// override it. The original design hard-coded 3 with no stated
// rationale (spec.md REDESIGN FLAGS); this repository keeps the value
// but makes it a parameter rather than a literal baked into the gate.
const DefaultCredits = 3

// CreditGate is a per-stream bounded-credit backpressure counter. A
// producer checks Available before emitting a unit, decrements on
// Acquire, and the consumer (or a dropped unit's release hook) calls
// Release to return a credit. The gate never blocks — it only gates
// further production, so pause/seek stay responsive.
type CreditGate struct {
	credits int32
	max     int32
	latch   *SyncLatch
}

// NewCreditGate returns a gate initialized to max credits. latch, if
// non-nil, is notified every time a credit is released so a producer
// parked waiting for backpressure to clear wakes promptly.
func NewCreditGate(max int, latch *SyncLatch) *CreditGate {
	if max <= 0 {
		max = DefaultCredits
	}
	return &CreditGate{credits: int32(max), max: int32(max), latch: latch}
}

// Available reports whether a credit can currently be acquired.
func (g *CreditGate) Available() bool {
	return atomic.LoadInt32(&g.credits) > 0
}

// Acquire decrements the counter by one. Callers must have already
// checked Available (the gate does not block); Acquire still clamps at
// zero defensively.
func (g *CreditGate) Acquire() {
	for {
		cur := atomic.LoadInt32(&g.credits)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&g.credits, cur, cur-1) {
			return
		}
	}
}

// Release returns one credit to the gate, clamped at max, and notifies
// the associated latch (if any) so a producer blocked on backpressure
// wakes up. Safe to call after the gate's owner has shut down; it is
// harmless bookkeeping at that point.
func (g *CreditGate) Release() {
	for {
		cur := atomic.LoadInt32(&g.credits)
		if cur >= g.max {
			break
		}
		if atomic.CompareAndSwapInt32(&g.credits, cur, cur+1) {
			break
		}
	}
	if g.latch != nil {
		g.latch.Notify()
	}
}

// ReleaseFunc returns a closure suitable for use as a unit's release
// hook: calling it releases exactly one credit. Wrapping Release lets
// callers hand out a release hook without exposing the gate itself.
func (g *CreditGate) ReleaseFunc() func() {
	return g.Release
}

// Snapshot returns the current credit count, mostly for tests and
// diagnostics.
func (g *CreditGate) Snapshot() int {
	return int(atomic.LoadInt32(&g.credits))
}
