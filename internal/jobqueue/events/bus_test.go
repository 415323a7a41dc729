package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/taskforge/internal/jobqueue"
)

func TestBus_PublishDispatchesToMatchingQueueSubscriber(t *testing.T) {
	b := New()
	got := make(chan Event, 1)
	b.Subscribe("q1", TopicJobComplete, func(ev Event) { got <- ev })

	job := &jobqueue.Job{ID: uuid.New(), QueueName: "q1"}
	b.JobComplete(job)

	select {
	case ev := <-got:
		require.Equal(t, TopicJobComplete, ev.Topic)
		require.Equal(t, job.ID, ev.Job.ID)
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive event")
	}
}

func TestBus_WildcardSubscriberReceivesAllQueues(t *testing.T) {
	b := New()
	got := make(chan Event, 2)
	b.Subscribe("", TopicJobAdded, func(ev Event) { got <- ev })

	b.JobAdded(&jobqueue.Job{ID: uuid.New(), QueueName: "a"})
	b.JobAdded(&jobqueue.Job{ID: uuid.New(), QueueName: "b"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-got:
			seen[ev.QueueName] = true
		case <-time.After(time.Second):
			t.Fatal("expected two events")
		}
	}
	require.True(t, seen["a"])
	require.True(t, seen["b"])
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	got := make(chan Event, 1)
	unsub := b.Subscribe("q1", TopicJobStart, func(ev Event) { got <- ev })
	unsub()

	b.JobStart(&jobqueue.Job{ID: uuid.New(), QueueName: "q1"})

	select {
	case <-got:
		t.Fatal("expected no event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_DifferentQueueDoesNotReceive(t *testing.T) {
	b := New()
	got := make(chan Event, 1)
	b.Subscribe("q1", TopicJobComplete, func(ev Event) { got <- ev })

	b.JobComplete(&jobqueue.Job{ID: uuid.New(), QueueName: "q2"})

	select {
	case <-got:
		t.Fatal("expected no event for a different queue")
	case <-time.After(100 * time.Millisecond):
	}
}
