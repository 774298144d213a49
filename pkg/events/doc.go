/*
Package events provides an in-memory, per-task event broker used to drive the
server-sent-events push channel described by the task API.

The broker is a passive observer of task lifecycle changes: it does not drive
state transitions itself, it only carries notifications that something
changed so that an HTTP handler streaming a task's progress to a client does
not have to poll the store.

# Architecture

	┌────────────────────── EVENT BROKER ───────────────────────┐
	│                                                            │
	│  Publisher (orchestrator/worker) → eventCh (buffer: 100)  │
	│          ↓                                                │
	│  Broadcast loop                                           │
	│          ↓                                                │
	│  subscribers[taskID] (buffer: 50 each)                    │
	└────────────────────────────────────────────────────────────┘

Subscriptions are scoped by task ID: a caller watching task A's progress via
Subscribe("task-a") never observes events published for any other task.
This lets an API handler open one subscription per SSE connection without
filtering a shared firehose.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(taskID)
	defer broker.Unsubscribe(taskID, sub)

	go func() {
		for event := range sub {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Message)
		}
	}()

	broker.Publish(&events.TaskEvent{
		TaskID: taskID,
		Type:   events.EventTaskTransitioned,
		State:  types.StateGeneratingFix,
	})

# Delivery semantics

Publish is non-blocking and best-effort: a subscriber with a full buffer
(a slow or stalled SSE client) has its event dropped rather than blocking
the broadcast loop. The push channel is a convenience layer over task state
already durably recorded in the store — a dropped event never loses
information, since a client can always re-fetch the task's current state.
*/
package events
