package events

import (
	"sync"
	"time"

	"github.com/cuemby/asaengine/pkg/types"
)

// EventType is the kind of task-lifecycle event published on the broker.
type EventType string

const (
	EventTaskQueued       EventType = "task.queued"
	EventTaskStarted      EventType = "task.started"
	EventTaskTransitioned EventType = "task.transitioned"
	EventTaskCompleted    EventType = "task.completed"
	EventTaskFailed       EventType = "task.failed"
	EventTaskCancelled    EventType = "task.cancelled"
)

// TaskEvent is one observation of a task's lifecycle — a passive reflection
// of the Task row's updated timestamp, published with no direct coupling to
// the orchestrator driving it.
type TaskEvent struct {
	ID        string
	TaskID    string
	Type      EventType
	State     types.State
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events for the task it subscribed to.
type Subscriber chan *TaskEvent

// Broker manages task-event subscriptions and distribution. Subscriptions
// are scoped per task ID so an SSE client only receives events for the task
// it is watching.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]bool // taskID -> subscriber set
	eventCh     chan *TaskEvent
	stopCh      chan struct{}
}

// NewBroker creates a new task-event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[Subscriber]bool),
		eventCh:     make(chan *TaskEvent, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription for taskID and returns a channel.
func (b *Broker) Subscribe(taskID string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	if b.subscribers[taskID] == nil {
		b.subscribers[taskID] = make(map[Subscriber]bool)
	}
	b.subscribers[taskID][sub] = true
	return sub
}

// Unsubscribe removes a subscription for taskID.
func (b *Broker) Unsubscribe(taskID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[taskID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, taskID)
		}
	}
	close(sub)
}

// Publish publishes an event to every subscriber of its TaskID.
func (b *Broker) Publish(event *TaskEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *TaskEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[event.TaskID] {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop rather than block the broker
		}
	}
}

// SubscriberCount returns the number of active subscribers for taskID.
func (b *Broker) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[taskID])
}
