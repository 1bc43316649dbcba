// Package queue provides the ordered containers backing later.Registry.
// Both containers order elements by a caller-supplied compare function
// which must define a total order: elements comparing equal are treated
// as the same element by SkipList.
package queue

import "github.com/huandu/skiplist"

// NewSkipList creates an empty skiplist ordered by compare.
func NewSkipList[T any](compare func(a, b T) int) *SkipList[T] {
	return &SkipList[T]{
		l: skiplist.New(
			skiplist.GreaterThanFunc(func(a, b interface{}) int {
				return compare(a.(T), b.(T))
			}),
		),
	}
}

// SkipList is an ordered queue backed by github.com/huandu/skiplist.
// It's not safe for concurrent use.
type SkipList[T any] struct {
	l *skiplist.SkipList
}

func (q *SkipList[T]) Push(v T) {
	q.l.Set(v, v)
}

func (q *SkipList[T]) Front() (v T, ok bool) {
	if e := q.l.Front(); e != nil {
		return e.Value.(T), true
	}
	return v, false
}

func (q *SkipList[T]) Pop() (v T, ok bool) {
	e := q.l.Front()
	if e == nil {
		return v, false
	}
	q.l.Remove(e.Key())
	return e.Value.(T), true
}

func (q *SkipList[T]) Len() int {
	return q.l.Len()
}

// Scan calls fn for each element in ascending order
// until either the end is reached or fn returns false.
func (q *SkipList[T]) Scan(fn func(T) bool) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(T)) {
			return
		}
	}
}

// Clear removes all elements and returns how many were removed.
func (q *SkipList[T]) Clear() (removed int) {
	removed = q.l.Len()
	q.l.Init()
	return removed
}
