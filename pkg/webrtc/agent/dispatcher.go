package agent

import (
	"sync"
)

// dispatcher runs tasks one at a time per key, in submission order. Tasks for
// different keys run concurrently. A key's worker exits once its queue drains.
type dispatcher struct {
	mu      sync.Mutex
	idle    *sync.Cond
	queues  map[string]*taskQueue
	closed  bool
	pending int
}

type taskQueue struct {
	tasks []func()
}

func newDispatcher() *dispatcher {
	d := &dispatcher{queues: make(map[string]*taskQueue)}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Submit queues task behind earlier tasks for key. It returns false once closed.
func (d *dispatcher) Submit(key string, task func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	d.pending++
	q, running := d.queues[key]
	if !running {
		q = &taskQueue{}
		d.queues[key] = q
	}
	q.tasks = append(q.tasks, task)
	if !running {
		go d.run(key, q)
	}
	return true
}

func (d *dispatcher) run(key string, q *taskQueue) {
	for {
		d.mu.Lock()
		if len(q.tasks) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		closed := d.closed
		d.mu.Unlock()

		if !closed {
			task()
		}

		d.mu.Lock()
		d.pending--
		if d.pending == 0 {
			d.idle.Broadcast()
		}
		d.mu.Unlock()
	}
}

// Flush blocks until no task is queued or running, including tasks
// submitted while it waits.
func (d *dispatcher) Flush() {
	d.mu.Lock()
	for d.pending > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Close stops accepting work; queued tasks that have not started are discarded.
func (d *dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
