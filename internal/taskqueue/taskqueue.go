// Package taskqueue runs units of work one at a time, in order.
package taskqueue

import "sync"

// Scheduler arranges for run to be called. The default calls it inline.
type Scheduler func(run func())

// Queue is a serial FIFO of tasks. A task enqueued while another runs is
// run after it, never nested inside it.
type Queue struct {
	schedule Scheduler

	mu        sync.Mutex
	tasks     []func()
	scheduled bool
}

// New returns a queue that drains through schedule, or inline when
// schedule is nil.
func New(schedule Scheduler) *Queue {
	if schedule == nil {
		schedule = func(run func()) { run() }
	}
	return &Queue{schedule: schedule}
}

// Enqueue appends task. If the queue is idle a drain is scheduled.
func (q *Queue) Enqueue(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	if q.scheduled {
		q.mu.Unlock()
		return
	}
	q.scheduled = true
	q.mu.Unlock()
	q.schedule(q.drain)
}

// Len reports the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.scheduled = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		task()
	}
}
