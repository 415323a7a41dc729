// Package events implements the in-process typed EventBus a JobQueue
// publishes lifecycle notifications to. Grounded on the reference
// stack's services.JobNotifier (typed notify methods over a broadcast
// hub) generalized from an SSE hub to a per-queue subscriber fan-out.
package events

import (
	"sync"

	"github.com/yungbote/taskforge/internal/jobqueue"
)

// Topic names a lifecycle event kind, mirroring the reference stack's
// sse.SSEEventJob* constants.
type Topic string

const (
	TopicQueueStart   Topic = "queue_start"
	TopicQueueStop    Topic = "queue_stop"
	TopicJobAdded     Topic = "job_added"
	TopicJobStart     Topic = "job_start"
	TopicJobComplete  Topic = "job_complete"
	TopicJobError     Topic = "job_error"
	TopicJobAborting  Topic = "job_aborting"
	TopicJobRetry     Topic = "job_retry"
	TopicJobSkipped   Topic = "job_skipped"
)

// Event is the payload handed to every subscriber. Job is nil for
// queue-level topics (TopicQueueStart/TopicQueueStop).
type Event struct {
	Topic     Topic
	QueueName string
	Job       *jobqueue.Job
	Err       error
}

// Handler is invoked on a new goroutine for every event delivered to it,
// so a slow or blocking handler never stalls the scheduling loop
// publishing the event. Deliveries to one handler are not ordered.
type Handler func(Event)

// Bus is a per-queue-name, per-topic pub/sub dispatcher. The zero value
// is not usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[Topic][]subscription
	next uint64
}

type subscription struct {
	id uint64
	fn Handler
}

func New() *Bus {
	return &Bus{subs: make(map[string]map[Topic][]subscription)}
}

// Subscribe registers fn for (queueName, topic) and returns an unsubscribe
// function. queueName may be "" to receive the topic across every queue.
func (b *Bus) Subscribe(queueName string, topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.subs[queueName] == nil {
		b.subs[queueName] = make(map[Topic][]subscription)
	}
	b.subs[queueName][topic] = append(b.subs[queueName][topic], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[queueName][topic]
		for i, s := range list {
			if s.id == id {
				b.subs[queueName][topic] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish dispatches ev to every matching subscriber (exact queue-name
// match plus wildcard "" subscribers), each on its own goroutine.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, key := range []string{ev.QueueName, ""} {
		for _, s := range b.subs[key][ev.Topic] {
			go s.fn(ev)
		}
		if ev.QueueName == "" {
			break
		}
	}
}

// JobAdded is a convenience wrapper used by JobQueue.Add.
func (b *Bus) JobAdded(job *jobqueue.Job) {
	b.Publish(Event{Topic: TopicJobAdded, QueueName: job.QueueName, Job: job})
}

// JobStart is a convenience wrapper used by the scheduling loop.
func (b *Bus) JobStart(job *jobqueue.Job) {
	b.Publish(Event{Topic: TopicJobStart, QueueName: job.QueueName, Job: job})
}

// JobComplete is a convenience wrapper for a successful terminal outcome.
func (b *Bus) JobComplete(job *jobqueue.Job) {
	b.Publish(Event{Topic: TopicJobComplete, QueueName: job.QueueName, Job: job})
}

// JobError is a convenience wrapper for a failed terminal outcome.
func (b *Bus) JobError(job *jobqueue.Job, err error) {
	b.Publish(Event{Topic: TopicJobError, QueueName: job.QueueName, Job: job, Err: err})
}

// JobAborting is published the moment a job transitions to ABORTING.
func (b *Bus) JobAborting(job *jobqueue.Job) {
	b.Publish(Event{Topic: TopicJobAborting, QueueName: job.QueueName, Job: job})
}

// JobRetry is published when a job is requeued after a RetryableJobError.
func (b *Bus) JobRetry(job *jobqueue.Job, cause error) {
	b.Publish(Event{Topic: TopicJobRetry, QueueName: job.QueueName, Job: job, Err: cause})
}

// JobSkipped is published when a job is short-circuited by memoization.
func (b *Bus) JobSkipped(job *jobqueue.Job) {
	b.Publish(Event{Topic: TopicJobSkipped, QueueName: job.QueueName, Job: job})
}

// QueueStart/QueueStop are published by JobQueue.Start/JobQueue.Stop.
func (b *Bus) QueueStart(queueName string) {
	b.Publish(Event{Topic: TopicQueueStart, QueueName: queueName})
}

func (b *Bus) QueueStop(queueName string) {
	b.Publish(Event{Topic: TopicQueueStop, QueueName: queueName})
}
