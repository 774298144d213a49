/*
Package metrics provides Prometheus metrics collection and exposition for
asaengine.

The package defines and registers every asaengine metric using the
Prometheus client library, covering queue admission, the task state
machine, LLM gateway spend, patch application, sandbox test runs, and the
API surface. Metrics are exposed on /metrics for scraping; /health, /ready,
and /live are served alongside them by the same process.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Queue: depth, admission denials, jobs      │          │
	│  │  State machine: transitions, duration,      │          │
	│  │                 retries, completions        │          │
	│  │  LLM gateway: calls, tokens, cost, budget   │          │
	│  │  Patch: apply outcomes, validation failures │          │
	│  │  Sandbox: test run duration by phase        │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        HTTP Exposition (promhttp)           │          │
	│  │  GET /metrics -> text exposition format     │          │
	│  └──────────────────────────────────────────────┘         │
	└────────────────────────────────────────────────────────────┘

# Queue and Worker Metrics

	asaengine_queue_depth{priority}             - queued handles, sampled by Collector
	asaengine_admission_denials_total{reason}   - CanAdmit/Enqueue gate rejections
	asaengine_jobs_running                      - handles currently HandleRunning
	asaengine_worker_utilization{worker_id}     - 1 while a worker holds a task, else 0

Collector runs on a 15-second tick (collector.go) and samples queue_depth
and jobs_running from a StatsFunc the caller supplies — cmd/asaengine/server.go
adapts the configured queue.Coordinator's Stats call into that shape.
Admission denials are not sampled; they are incremented directly at the
denial branch in pkg/queue's canAdmitLocked/canAdmit, the single choke
point shared by CanAdmit and Enqueue, so a handle is never double-counted.

# State Machine Metrics

	asaengine_state_transitions_total{from,to,outcome}  - every Orchestrator.Run transition
	asaengine_state_duration_seconds{state}             - time an effect spent running
	asaengine_retries_total{state}                      - RETRY pseudo-state re-entries
	asaengine_tasks_completed_total{status}             - terminal states reached

pkg/orchestrator records these directly around its effect loop: state_duration
on every entered/exited pair, state_transitions_total and retries_total in
the main Run loop and in resolveRetry, tasks_completed_total in finish.

# LLM Gateway Metrics

	asaengine_llm_calls_total{purpose,model,status}       - one per provider attempt
	asaengine_llm_tokens_total{purpose,model}             - prompt+completion tokens, successes only
	asaengine_llm_cost_usd_total{purpose,model}           - USD spend, successes only
	asaengine_llm_call_duration_seconds{purpose}          - per-attempt latency
	asaengine_budget_denials_total{kind}                  - pre-call budget gate rejections

Gateway.recordAttempt emits these once per retry attempt, matching the
UsageRecord it writes to the usage store for the same attempt — a task
that retries twice before succeeding leaves three llm_calls_total
increments and three usage rows, not one.

# Patch and Sandbox Metrics

	asaengine_patch_apply_total{outcome}                - success, validation_failed, apply_failed
	asaengine_patch_validation_failures_total{reason}   - per-patch validation rejections
	asaengine_test_run_duration_seconds{phase}          - sandbox command wall time by orchestrator phase

# API Metrics

	asaengine_api_requests_total{method,route,status}
	asaengine_api_request_duration_seconds{route}

pkg/api's middleware (server.go) records these per HTTP request.
*/
package metrics
