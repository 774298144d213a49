// Package orchestrator implements the engine's deterministic state-machine
// driver: a static table of (state, signal) -> state edges, a set of
// per-state effect functions, and a RETRY pseudo-state that re-enters the
// previous retry-eligible state until its counter is exhausted.
package orchestrator
