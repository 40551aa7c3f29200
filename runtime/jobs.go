package runtime

import "sync"

// JobID identifies a scheduled callback for cancellation.
type JobID uint64

type job struct {
	id        JobID
	fn        func() error
	cancelled bool
}

// jobQueue is the bridge-level FIFO of host callbacks. Jobs run only at
// drain checkpoints, under the engine guard. Enqueues arriving while a
// drain is in flight land in an overflow buffer that is folded in after
// every already-queued job has run, still within the same checkpoint.
type jobQueue struct {
	mu       sync.Mutex
	primary  []*job
	overflow []*job
	draining bool
	nextID   JobID

	// wake is pulsed on enqueue so blocked waiters (AwaitHandle) re-check
	// instead of sleeping out their poll interval.
	wake chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{wake: make(chan struct{}, 1)}
}

// enqueue appends a job and returns its id. It never fails and never
// blocks; queue growth is bounded only by memory.
func (q *jobQueue) enqueue(fn func() error) JobID {
	q.mu.Lock()
	q.nextID++
	j := &job{id: q.nextID, fn: fn}
	if q.draining {
		q.overflow = append(q.overflow, j)
	} else {
		q.primary = append(q.primary, j)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return j.id
}

// cancel marks a not-yet-run job as cancelled. Returns false when the job
// already ran, was already cancelled, or never existed.
func (q *jobQueue) cancel(id JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.primary {
		if j.id == id && !j.cancelled {
			j.cancelled = true
			return true
		}
	}
	for _, j := range q.overflow {
		if j.id == id && !j.cancelled {
			j.cancelled = true
			return true
		}
	}
	return false
}

// pending counts jobs that have not run or been cancelled.
func (q *jobQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, j := range q.primary {
		if !j.cancelled {
			n++
		}
	}
	for _, j := range q.overflow {
		if !j.cancelled {
			n++
		}
	}
	return n
}

// drain runs queued jobs in FIFO order until both buffers are empty.
// Caller holds the engine guard. A job error goes to report and draining
// continues; one bad job never starves the rest. Nested drains are no-ops
// so a job that triggers another checkpoint cannot recurse.
func (q *jobQueue) drain(report func(error)) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true

	for {
		if len(q.primary) == 0 {
			if len(q.overflow) == 0 {
				break
			}
			q.primary, q.overflow = q.overflow, q.primary[:0]
		}
		j := q.primary[0]
		q.primary = q.primary[1:]
		q.mu.Unlock()

		if !j.cancelled {
			if err := j.fn(); err != nil && report != nil {
				report(err)
			}
		}

		q.mu.Lock()
	}

	q.draining = false
	q.mu.Unlock()
}

// discard drops every queued job without running it and returns how many
// were dropped. Shutdown path.
func (q *jobQueue) discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, j := range q.primary {
		if !j.cancelled {
			n++
		}
	}
	for _, j := range q.overflow {
		if !j.cancelled {
			n++
		}
	}
	q.primary = nil
	q.overflow = nil
	return n
}
