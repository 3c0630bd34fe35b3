package coordinator

import "container/heap"

// taskQueue is the pending-task priority queue. Ordering: priority weight
// descending; within a tier, front-pushed tasks (retries, requeues) first,
// then tasks with a deadline before tasks without, earlier deadline first;
// submission order breaks remaining ties. Not safe for concurrent use; the
// scheduler serializes access.
type taskQueue struct {
	items    taskHeap
	nextSeq  int64
	frontSeq int64
}

func newTaskQueue() *taskQueue {
	return &taskQueue{nextSeq: 1, frontSeq: -1}
}

// Push enqueues a task at its ordered position. A task that already carries
// a sequence number (popped and deferred within a tick) keeps its position.
func (q *taskQueue) Push(t *Task) {
	if t.seq == 0 {
		t.seq = q.nextSeq
		q.nextSeq++
	}
	heap.Push(&q.items, t)
}

// PushFront enqueues a task ahead of everything else in its priority tier.
func (q *taskQueue) PushFront(t *Task) {
	t.seq = q.frontSeq
	q.frontSeq--
	heap.Push(&q.items, t)
}

// Pop removes and returns the highest-priority task, or nil when empty.
func (q *taskQueue) Pop() *Task {
	if q.items.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Task)
}

func (q *taskQueue) Len() int { return q.items.Len() }

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]

	wa, wb := a.Priority.Weight(), b.Priority.Weight()
	if wa != wb {
		return wa > wb
	}

	// Front-pushed tasks carry negative sequence numbers; the most recent
	// push (most negative) goes first.
	af, bf := a.seq < 0, b.seq < 0
	if af != bf {
		return af
	}
	if af && bf {
		return a.seq < b.seq
	}

	switch {
	case a.Deadline != nil && b.Deadline == nil:
		return true
	case a.Deadline == nil && b.Deadline != nil:
		return false
	case a.Deadline != nil && b.Deadline != nil && !a.Deadline.Equal(*b.Deadline):
		return a.Deadline.Before(*b.Deadline)
	}

	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
