package queue

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of jobs with exactly one consumer. Enqueue never
// blocks the producer; backpressure is surfaced to users through the reported
// queue position instead of by blocking. Dequeue blocks until a job arrives
// or the context is cancelled.
type Queue struct {
	mu   sync.Mutex
	jobs []*Job
	wake chan struct{}
}

func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends job at the tail. It is safe to call from any goroutine and
// returns immediately.
func (q *Queue) Enqueue(job *Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the head job, blocking while the queue is
// empty. It returns false only when ctx is done. Jobs come out in strict
// arrival order.
func (q *Queue) Dequeue(ctx context.Context) (*Job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.wake:
		}
	}
}

// Size reports the pending job count. It is a snapshot that may be stale by
// the time a producer acts on it; the queue-position notice treats it as a
// best-effort hint.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
