package engine

import (
	"container/heap"
	"time"
)

// task is a unit of deferred work: a scheduled conversation execution or an
// active conversation expiry. Tasks run when the engine's clock reaches due.
type task struct {
	due time.Time
	seq uint64
	run func(now time.Time)
}

// taskQueue is a min-heap ordered by due time, then by scheduling sequence
// so simultaneous tasks run in FIFO order.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x interface{}) {
	*q = append(*q, x.(*task))
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func (q taskQueue) peek() *task {
	return q[0]
}

// runDue pops and runs every task due at or before now, in order.
// Tasks may push new tasks while running.
func (q *taskQueue) runDue(now time.Time) int {
	ran := 0
	for q.Len() > 0 && !q.peek().due.After(now) {
		t := heap.Pop(q).(*task)
		t.run(now)
		ran++
	}
	return ran
}
