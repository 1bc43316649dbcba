package later

import (
	"cmp"
	"time"

	"github.com/segmentio/ksuid"
)

// Task is the deferred unit of work carried by a Callback.
type Task interface {
	Invoke()
}

// Func is a Task wrapping a closure.
type Func func()

func (f Func) Invoke() { f() }

// DataFunc is a Task wrapping a function together with
// the opaque context value it's invoked with.
// The registry never inspects Data.
type DataFunc struct {
	Fn   func(data any)
	Data any
}

func (f DataFunc) Invoke() { f.Fn(f.Data) }

// Callback is a Task scheduled for execution at When.
type Callback struct {
	ID   ID
	When Timestamp

	seq  uint64
	task Task
}

// Invoke runs the callback's task on the calling goroutine.
func (c Callback) Invoke() {
	c.task.Invoke()
}

// Task returns the callback's payload.
func (c Callback) Task() Task {
	return c.task
}

// compareCallbacks orders callbacks by deadline and then by registration order.
func compareCallbacks(a, b Callback) int {
	if c := a.When.Compare(b.When); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// newID generates a new unique identifier.
func newID() (ID, error) {
	k, err := ksuid.NewRandom()
	if err != nil {
		return ID{}, err
	}
	return ID(k), nil
}

// ID is a unique callback identifier.
type ID ksuid.KSUID

// String returns the stringified identifier.
func (id ID) String() string {
	return ksuid.KSUID(id).String()
}

// Registered returns the wall clock time at which the callback was added,
// truncated to seconds.
func (id ID) Registered() time.Time {
	return ksuid.KSUID(id).Time()
}
