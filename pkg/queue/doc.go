// Package queue implements admission control and a two-priority FIFO work
// queue for bug-fix tasks. A Coordinator evaluates three backpressure gates
// at admission time, hands out JobHandles, and lets workers dequeue,
// observe cancellation, and release them. The in-memory implementation
// backs single-process tests; the Redis-backed implementation coordinates
// admission and handle state across multiple worker processes.
package queue
