package scheduler

import (
	"container/heap"
	"time"
)

type dueEntry[T any] struct {
	due   time.Time
	seq   uint64
	gen   uint64
	value T
}

// dueHeap is a min-heap ordered by due time, ties broken by insertion order.
type dueHeap[T any] []*dueEntry[T]

func (h dueHeap[T]) Len() int { return len(h) }

func (h dueHeap[T]) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h dueHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *dueHeap[T]) Push(x any) { *h = append(*h, x.(*dueEntry[T])) }

func (h *dueHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type dueQueue[T any] struct {
	h   dueHeap[T]
	seq uint64
}

func (q *dueQueue[T]) push(due time.Time, gen uint64, v T) {
	q.seq++
	heap.Push(&q.h, &dueEntry[T]{due: due, seq: q.seq, gen: gen, value: v})
}

// popDue removes and returns the earliest entry if it is due at now.
func (q *dueQueue[T]) popDue(now time.Time) (*dueEntry[T], bool) {
	if len(q.h) == 0 || q.h[0].due.After(now) {
		return nil, false
	}
	return heap.Pop(&q.h).(*dueEntry[T]), true
}

func (q *dueQueue[T]) peek() (*dueEntry[T], bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0], true
}

func (q *dueQueue[T]) len() int { return len(q.h) }
