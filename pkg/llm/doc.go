// Package llm is the sole conduit for outbound LLM calls. It pins a model
// to each call Purpose, enforces per-task and per-principal budgets before
// a call is made, retries transient provider failures through pkg/errors,
// and writes a UsageRecord for every attempt regardless of outcome.
package llm
