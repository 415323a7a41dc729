package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry is the process-wide dispatch table of named JobQueues,
// generalized from the reference stack's runtime.Registry (a
// concurrency-safe job_type -> handler map) to a concurrency-safe
// queueName -> *JobQueue map with fan-out start/stop.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*JobQueue
}

// NewRegistry constructs an empty QueueRegistry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*JobQueue)}
}

// RegisterQueue adds q to the registry under q.Name(). Registering a
// second queue under an already-used name is a configuration error, not
// a silent replace.
func (r *Registry) RegisterQueue(q *JobQueue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queues[q.Name()]; exists {
		return fmt.Errorf("queue registry: queue %q already registered", q.Name())
	}
	r.queues[q.Name()] = q
	return nil
}

// GetQueue returns the queue registered under name, or (nil, false).
func (r *Registry) GetQueue(name string) (*JobQueue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

// Names returns every registered queue name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// StartQueues starts every registered queue concurrently.
func (r *Registry) StartQueues(ctx context.Context) {
	r.mu.RLock()
	queues := make([]*JobQueue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, q := range queues {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Start(ctx)
		}()
	}
	wg.Wait()
}

// StopQueues stops every registered queue concurrently and returns only
// once every queue's Stop has returned, i.e. every in-flight job across
// every queue has observed cancellation or completed.
func (r *Registry) StopQueues(ctx context.Context) error {
	r.mu.RLock()
	queues := make([]*JobQueue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, q := range queues {
		q := q
		g.Go(func() error {
			q.Stop()
			return nil
		})
	}
	return g.Wait()
}
