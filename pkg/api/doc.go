/*
Package api exposes the engine's HTTP surface with go-chi: task submission,
inspection (detail, logs, progress, job-handle status), cancellation, and
a server-sent-events push endpoint — exactly the operations the task
engine's interface contract names, nothing more.

# Endpoints

	POST   /tasks                  submit a bug-fix task
	GET    /tasks                  list tasks for the requesting principal
	GET    /tasks/{id}             task detail
	GET    /tasks/{id}/logs        tail of the task's append-only log
	GET    /tasks/{id}/progress    {status, progress_percentage, duration_seconds, current_step}
	GET    /tasks/{id}/handle      the task's JobHandle status
	POST   /tasks/{id}/cancel      cooperative cancellation
	GET    /tasks/{id}/events      SSE stream of task lifecycle events
	POST   /tasks/{id}/feedback    thumbs up/down on a completed task
	GET    /health, /ready, /live  liveness/readiness (delegates to pkg/metrics)
	GET    /metrics                Prometheus scrape endpoint

# Admission

POST /tasks persists nothing until the queue coordinator's CanAdmit gate
passes; a denial returns 429 with the gate's reason in the body, matching
the "no new Task is persisted" admission-denial behavior the engine
requires. A successful submission returns 201 with the full task detail.

# Push channel

GET /tasks/{id}/events opens a text/event-stream response and relays
every pkg/events.TaskEvent published for that task ID until the client
disconnects. It is a convenience layer over state already durable in the
store, not an authoritative source — a client that misses an event can
always re-fetch /tasks/{id}.
*/
package api
