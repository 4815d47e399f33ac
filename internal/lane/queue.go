// Package lane implements the two-lane concurrency primitives the
// manager runs on: a single background DB-lane worker consuming a
// priority+FIFO task queue, and a run-on-main trampoline the worker uses
// to cross back onto the caller's lane for preparation closures and
// completion callbacks.
package lane

import (
	"container/list"
	"context"
	"sync"
)

// Cancellation is checked before a task opens the database; either it or
// the task's own cancel flag being true discards the task without
// invoking its completion.
type Cancellation func() bool

// Task is an opaque unit of work submitted to the DB lane.
type Task struct {
	Priority   int
	Cancel     Cancellation
	cancelled  bool
	run        func(ctx context.Context)
}

// Queue is an ordered, optionally-prioritized queue of Tasks: any int is
// a priority level and higher levels dispatch first, but within one
// priority level tasks are strictly FIFO, and execution stays serial
// regardless of priority.
type Queue struct {
	mu            sync.Mutex
	cond          *sync.Cond
	levels        map[int]*list.List
	priorityOrder []int
	suspendCount  int
	closed        bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	q := &Queue{levels: make(map[int]*list.List)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Submit enqueues run at priority, returning a Task the caller can use
// to set a cancellation predicate before the worker picks it up.
func (q *Queue) Submit(priority int, cancel Cancellation, run func(ctx context.Context)) *Task {
	t := &Task{Priority: priority, Cancel: cancel, run: run}
	q.mu.Lock()
	lst, ok := q.levels[priority]
	if !ok {
		lst = list.New()
		q.levels[priority] = lst
		q.priorityOrder = insertSorted(q.priorityOrder, priority)
	}
	lst.PushBack(t)
	q.mu.Unlock()
	q.cond.Signal()
	return t
}

func insertSorted(order []int, p int) []int {
	for i, v := range order {
		if v == p {
			return order
		}
		if v > p {
			out := append([]int{}, order[:i]...)
			out = append(out, p)
			out = append(out, order[i:]...)
			return out
		}
	}
	return append(order, p)
}

// suspended reports whether dispatch is currently paused.
func (q *Queue) suspended() bool { return q.suspendCount > 0 }

// Suspend increments the suspend counter; the queue stops dispatching
// when it goes from 0 to 1.
func (q *Queue) Suspend() {
	q.mu.Lock()
	q.suspendCount++
	q.mu.Unlock()
}

// Resume decrements the suspend counter; underflow (resume without a
// matching suspend) is a programmer error and panics, matching the
// fatal-errors contract for API misuse.
func (q *Queue) Resume() {
	q.mu.Lock()
	if q.suspendCount == 0 {
		q.mu.Unlock()
		panic("lane: Resume called without a matching Suspend")
	}
	q.suspendCount--
	resumed := q.suspendCount == 0
	q.mu.Unlock()
	if resumed {
		q.cond.Broadcast()
	}
}

// Close stops the worker loop; any queued tasks are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// next blocks until a task is dispatchable (not suspended, queue
// non-empty) or the queue is closed, in which case it returns nil, false.
// Highest priority first, FIFO within a priority level.
func (q *Queue) next() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil, false
		}
		if !q.suspended() {
			for i := len(q.priorityOrder) - 1; i >= 0; i-- {
				p := q.priorityOrder[i]
				lst := q.levels[p]
				if lst.Len() > 0 {
					front := lst.Front()
					lst.Remove(front)
					return front.Value.(*Task), true
				}
			}
		}
		q.cond.Wait()
	}
}

// Run is the DB-lane worker loop: it pulls tasks in priority+FIFO order
// and executes them serially until Close. Intended to run in its own
// goroutine.
func (q *Queue) Run(ctx context.Context) {
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		if t.cancelled || (t.Cancel != nil && t.Cancel()) {
			continue
		}
		t.run(ctx)
	}
}
