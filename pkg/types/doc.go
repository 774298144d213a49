/*
Package types defines the core data structures shared across asaengine.

It has no dependencies on any other asaengine package, by design: every
other package (queue, orchestrator, llm, patch, store, worker, api) imports
types, never the reverse.

# Core Types

Task lifecycle:
  - Task: a submitted bug-fix request and its current State
  - State / Signal: the orchestrator's transition graph vocabulary
  - StateContext: one append-only history entry per state visited

Queue coordination:
  - JobHandle: the queue's reference to a Task
  - HandleStatus, Priority

LLM gateway:
  - Purpose, ModelConfig: pinning table entries
  - UsageRecord: one append-only row per LLM call
  - PromptVersion: an immutable, versioned prompt record

Patch application:
  - PatchSet, Patch, PatchOperation

Supplemental:
  - Feedback, EvaluationCase, EvaluationResult

# Serialization

All types are JSON-serializable; pkg/store persists them as either JSON
blobs (embedded bbolt mode) or normalized relational rows (Postgres mode).
Enums other than Priority (a typed int) are typed strings, so a bad value
survives a JSON round-trip as a visibly wrong string rather than silently
coercing to zero.

# Thread Safety

Values in this package carry no synchronization of their own. Callers that
share a *Task (or similar) across goroutines — the orchestrator writing
while the API layer reads — synchronize externally.
*/
package types
