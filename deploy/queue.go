package deploy

import (
	"sync"
	"time"
)

// Queue is a FIFO of deployment jobs with a bounded history of finished
// runs. One worker consumes it; producers are HTTP handlers and trigger
// fan-out. Accessors hand out copies, never the stored jobs, so readers
// cannot race the worker mutating a run in flight.
type Queue struct {
	mu         sync.RWMutex
	pending    []*Job
	running    *Job
	history    []*Job
	maxHistory int
}

func NewQueue(maxHistory int) *Queue {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Queue{maxHistory: maxHistory}
}

// Enqueue appends a job.
func (q *Queue) Enqueue(j *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, j)
}

// Next pops the oldest pending job, marks it running and returns a copy
// for the worker to execute. It reports false when the queue is empty.
func (q *Queue) Next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Job{}, false
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	j.Status = StatusRunning
	q.running = j
	return *j, true
}

// Finish writes the executed copy's outcome back into the stored job and
// moves it to history, evicting the oldest entry once the bound is
// reached.
func (q *Queue) Finish(j Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored := q.running
	if stored == nil || stored.ID != j.ID {
		stored = &Job{}
	} else {
		q.running = nil
	}
	*stored = j
	q.appendHistory(stored)
}

// Cancel removes a pending job by id, stamping its completion time.
// Running jobs cannot be cancelled.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, j := range q.pending {
		if j.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			j.Status = StatusCancelled
			j.FinishedAt = time.Now().UTC()
			q.appendHistory(j)
			return true
		}
	}
	return false
}

func (q *Queue) appendHistory(j *Job) {
	q.history = append(q.history, j)
	if len(q.history) > q.maxHistory {
		q.history = q.history[len(q.history)-q.maxHistory:]
	}
}

// Find looks a job up by id across pending, running and history.
func (q *Queue) Find(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.running != nil && q.running.ID == id {
		return *q.running, true
	}
	for _, j := range q.pending {
		if j.ID == id {
			return *j, true
		}
	}
	for _, j := range q.history {
		if j.ID == id {
			return *j, true
		}
	}
	return Job{}, false
}

// PendingLen returns the number of queued jobs.
func (q *Queue) PendingLen() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pending)
}

// Jobs returns the live jobs: the running one first, then pending in
// queue order.
func (q *Queue) Jobs() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Job, 0, len(q.pending)+1)
	if q.running != nil {
		out = append(out, *q.running)
	}
	for _, j := range q.pending {
		out = append(out, *j)
	}
	return out
}

// History returns finished jobs, newest first.
func (q *Queue) History() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Job, len(q.history))
	for i, j := range q.history {
		out[len(q.history)-1-i] = *j
	}
	return out
}
