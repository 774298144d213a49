package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/asaengine/pkg/types"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := newTestBroker(t)

	sub := b.Subscribe("task-1")
	defer b.Unsubscribe("task-1", sub)

	b.Publish(&TaskEvent{
		TaskID: "task-1",
		Type:   EventTaskTransitioned,
		State:  types.StateGeneratingFix,
	})

	select {
	case event := <-sub:
		assert.Equal(t, "task-1", event.TaskID)
		assert.Equal(t, EventTaskTransitioned, event.Type)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribersAreScopedPerTask(t *testing.T) {
	b := newTestBroker(t)

	subA := b.Subscribe("task-a")
	defer b.Unsubscribe("task-a", subA)
	subB := b.Subscribe("task-b")
	defer b.Unsubscribe("task-b", subB)

	b.Publish(&TaskEvent{TaskID: "task-a", Type: EventTaskCompleted})

	select {
	case event := <-subA:
		assert.Equal(t, "task-a", event.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task-a event")
	}

	select {
	case event := <-subB:
		t.Fatalf("task-b subscriber should not have received an event, got %+v", event)
	case <-time.After(50 * time.Millisecond):
		// expected: no event crossed over
	}
}

func TestUnsubscribeClosesChannelAndRemovesSubscriber(t *testing.T) {
	b := newTestBroker(t)

	sub := b.Subscribe("task-1")
	require.Equal(t, 1, b.SubscriberCount("task-1"))

	b.Unsubscribe("task-1", sub)
	assert.Equal(t, 0, b.SubscriberCount("task-1"))

	_, open := <-sub
	assert.False(t, open)
}

func TestSubscriberCountTracksMultipleSubscribers(t *testing.T) {
	b := newTestBroker(t)

	sub1 := b.Subscribe("task-1")
	sub2 := b.Subscribe("task-1")
	defer b.Unsubscribe("task-1", sub1)
	defer b.Unsubscribe("task-1", sub2)

	assert.Equal(t, 2, b.SubscriberCount("task-1"))
	assert.Equal(t, 0, b.SubscriberCount("task-unknown"))
}

func TestPublishToTaskWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := newTestBroker(t)

	done := make(chan struct{})
	go func() {
		b.Publish(&TaskEvent{TaskID: "no-subscribers", Type: EventTaskFailed})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers present")
	}
}

func TestPublishFillsZeroTimestamp(t *testing.T) {
	b := newTestBroker(t)

	sub := b.Subscribe("task-1")
	defer b.Unsubscribe("task-1", sub)

	before := time.Now()
	b.Publish(&TaskEvent{TaskID: "task-1", Type: EventTaskQueued})

	select {
	case event := <-sub:
		assert.False(t, event.Timestamp.Before(before))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
