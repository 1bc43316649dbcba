package later

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/romshark/later/internal/queue"
)

// NoLimit makes Take return every due callback.
const NoLimit = -1

// ErrNilTask is returned when adding a callback without a function.
var ErrNilTask = errors.New("nil task")

type QueueReader interface {
	Len() int
	Front() (Callback, bool)
	Scan(fn func(Callback) bool)
}

type QueueWriter interface {
	Push(Callback)
	Pop() (Callback, bool)
	Clear() (removed int)
}

type QueueReadWriter interface {
	QueueReader
	QueueWriter
}

// New creates a new empty registry.
func New() *Registry {
	return NewWith(nil, nil)
}

// NewWith is similar to New but replaces the default time provider
// and queue implementation.
// If t == nil then Now and time.AfterFunc are used by default.
// If q == nil then a skiplist from later/internal/queue is used by default.
// q must keep callbacks ordered by When and then by registration order
// and must be empty.
func NewWith(t TimeProvider, q QueueReadWriter) *Registry {
	if t == nil {
		t = timeProvider{}
	}
	if q == nil {
		q = queue.NewSkipList(compareCallbacks)
	}
	return &Registry{
		provider: t,
		queue:    q,
		notify:   make(chan struct{}, 1),
	}
}

// NewHeapQueue returns an empty binary-heap queue
// that can be passed to NewWith.
func NewHeapQueue() QueueReadWriter {
	return queue.NewHeap(compareCallbacks)
}

// Registry is a set of pending callbacks ordered by their deadline.
// Dropping a registry discards its pending callbacks without invoking them.
type Registry struct {
	provider TimeProvider
	lock     sync.RWMutex
	queue    QueueReadWriter
	seq      uint64

	// notify holds at most one pending wake-up for Wait.
	notify chan struct{}
}

// Now returns the current time of the registry's time provider.
func (r *Registry) Now() Timestamp {
	return r.provider.Now()
}

// Add schedules fn for execution in delay relative to now.
// A delay < 1 makes fn due immediately.
func (r *Registry) Add(fn func(), delay Duration) (ID, error) {
	if fn == nil {
		return ID{}, ErrNilTask
	}
	return r.AddTask(Func(fn), delay)
}

// AddFunc is similar to Add but schedules fn to be invoked with data.
func (r *Registry) AddFunc(
	fn func(data any),
	data any,
	delay Duration,
) (ID, error) {
	if fn == nil {
		return ID{}, ErrNilTask
	}
	return r.AddTask(DataFunc{Fn: fn, Data: data}, delay)
}

// AddTask schedules task for execution in delay relative to now
// and wakes up a waiting consumer.
func (r *Registry) AddTask(task Task, delay Duration) (ID, error) {
	switch t := task.(type) {
	case nil:
		return ID{}, ErrNilTask
	case Func:
		if t == nil {
			return ID{}, ErrNilTask
		}
	case DataFunc:
		if t.Fn == nil {
			return ID{}, ErrNilTask
		}
	case *DataFunc:
		if t == nil || t.Fn == nil {
			return ID{}, ErrNilTask
		}
	}

	id, err := newID()
	if err != nil {
		return ID{}, fmt.Errorf("generating unique KSUID: %w", err)
	}

	r.lock.Lock()
	r.seq++
	r.queue.Push(Callback{
		ID:   id,
		When: r.provider.Now().Add(delay),
		seq:  r.seq,
		task: task,
	})
	r.lock.Unlock()

	r.signal()
	return id, nil
}

// NextTimestamp returns the deadline of the earliest pending callback.
// Returns false if the registry is empty.
func (r *Registry) NextTimestamp() (Timestamp, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	c, ok := r.queue.Front()
	if !ok {
		return Timestamp{}, false
	}
	return c.When, true
}

// Empty returns true if there are no pending callbacks.
func (r *Registry) Empty() bool {
	return r.Len() < 1
}

// Len returns the number of pending callbacks.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.queue.Len()
}

// Due returns true if any callback is due now.
func (r *Registry) Due() bool {
	return r.DueAt(r.provider.Now())
}

// DueAt returns true if any callback is due at t.
func (r *Registry) DueAt(t Timestamp) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	c, ok := r.queue.Front()
	return ok && !c.When.After(t)
}

// Take removes and returns up to max callbacks that are due now
// ordered by their deadline.
// Any negative max (see NoLimit) removes all due callbacks.
func (r *Registry) Take(max int) []Callback {
	return r.TakeAt(max, r.provider.Now())
}

// TakeAt is similar to Take but considers callbacks
// with a deadline at or before t as due.
// Returns nil if no callback is due.
func (r *Registry) TakeAt(max int, t Timestamp) []Callback {
	r.lock.Lock()
	defer r.lock.Unlock()

	var due []Callback
	for max < 0 || len(due) < max {
		c, ok := r.queue.Front()
		if !ok || c.When.After(t) {
			break
		}
		r.queue.Pop()
		due = append(due, c)
	}
	return due
}

// Wait blocks until either a callback is added
// or the timeout elapses and returns true in the former case.
// A timeout < 1 only checks for an add that happened since the last wake-up.
// A return value of true doesn't guarantee that anything is due,
// callers are expected to check Due or NextTimestamp.
func (r *Registry) Wait(timeout Duration) bool {
	ok, _ := r.WaitContext(context.Background(), timeout)
	return ok
}

// WaitContext is similar to Wait but also returns ctx.Err()
// when ctx is done before either a callback is added or the timeout elapses.
func (r *Registry) WaitContext(
	ctx context.Context,
	timeout Duration,
) (signaled bool, err error) {
	if timeout < 1 {
		select {
		case <-r.notify:
			return true, nil
		default:
			return false, ctx.Err()
		}
	}

	expired := make(chan struct{})
	t := r.provider.AfterFunc(timeout, func() { close(expired) })
	defer t.Stop()

	select {
	case <-r.notify:
		return true, nil
	case <-expired:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Scan calls fn for each pending callback in execution order
// until either the end is reached or fn returns false.
// fn is called on a snapshot outside of the registry's lock
// and may therefore use the registry.
func (r *Registry) Scan(fn func(Callback) bool) {
	r.lock.RLock()
	snapshot := make([]Callback, 0, r.queue.Len())
	r.queue.Scan(func(c Callback) bool {
		snapshot = append(snapshot, c)
		return true
	})
	r.lock.RUnlock()

	for _, c := range snapshot {
		if !fn(c) {
			return
		}
	}
}

// Discard removes all pending callbacks without invoking them
// and returns the number of callbacks removed.
func (r *Registry) Discard() (discarded int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.queue.Clear()
}

// signal wakes up one waiting consumer, if any,
// or leaves a pending wake-up for the next call to Wait.
func (r *Registry) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
