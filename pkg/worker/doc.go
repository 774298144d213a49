// Package worker drains the admission queue and drives one task to a
// terminal state at a time per worker instance. Each dequeued handle loads
// its Task, is handed a fresh orchestrator bound to the worker's
// infrastructure clients, and is released once the orchestrator reaches a
// terminal state or the run fails outright.
package worker
