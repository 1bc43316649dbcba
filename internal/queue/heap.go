package queue

import (
	"container/heap"
	"slices"
)

// NewHeap creates an empty binary min-heap ordered by compare.
func NewHeap[T any](compare func(a, b T) int) *Heap[T] {
	return &Heap[T]{h: elements[T]{compare: compare}}
}

// Heap is an ordered queue backed by container/heap.
// It's not safe for concurrent use.
type Heap[T any] struct {
	h elements[T]
}

func (q *Heap[T]) Push(v T) {
	heap.Push(&q.h, v)
}

func (q *Heap[T]) Front() (v T, ok bool) {
	if len(q.h.s) < 1 {
		return v, false
	}
	return q.h.s[0], true
}

func (q *Heap[T]) Pop() (v T, ok bool) {
	if len(q.h.s) < 1 {
		return v, false
	}
	return heap.Pop(&q.h).(T), true
}

func (q *Heap[T]) Len() int {
	return len(q.h.s)
}

// Scan calls fn for each element in ascending order
// until either the end is reached or fn returns false.
// The heap slice is only partially ordered, so Scan sorts a copy.
func (q *Heap[T]) Scan(fn func(T) bool) {
	s := slices.Clone(q.h.s)
	slices.SortFunc(s, q.h.compare)
	for _, v := range s {
		if !fn(v) {
			return
		}
	}
}

// Clear removes all elements and returns how many were removed.
func (q *Heap[T]) Clear() (removed int) {
	removed = len(q.h.s)
	clear(q.h.s)
	q.h.s = q.h.s[:0]
	return removed
}

// elements implements heap.Interface.
type elements[T any] struct {
	s       []T
	compare func(a, b T) int
}

func (h elements[T]) Len() int { return len(h.s) }

func (h elements[T]) Less(i, j int) bool {
	return h.compare(h.s[i], h.s[j]) < 0
}

func (h elements[T]) Swap(i, j int) {
	h.s[i], h.s[j] = h.s[j], h.s[i]
}

func (h *elements[T]) Push(x any) {
	h.s = append(h.s, x.(T))
}

func (h *elements[T]) Pop() any {
	old := h.s
	n := len(old)
	v := old[n-1]
	var zero T
	old[n-1] = zero
	h.s = old[:n-1]
	return v
}
