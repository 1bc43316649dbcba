// Package loop pumps a later.Registry on behalf of a host:
// it waits for callbacks to become due and invokes them
// on the calling goroutine, outside of the registry's lock.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/romshark/later"
)

const (
	DefaultMaxBatch    = 1
	DefaultIdleTimeout = later.Second
)

type Option func(*Loop)

// WithLogger sets the logger. slog.Default() is used by default.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// WithMaxBatch sets how many callbacks RunNow invokes when not running all.
// Values < 1 are ignored.
func WithMaxBatch(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxBatch = n
		}
	}
}

// WithIdleTimeout sets how long Run sleeps at most while the registry is empty.
// Values < 1 are ignored.
func WithIdleTimeout(d later.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.idle = d
		}
	}
}

// WithPanicHandler sets the function Run reports panicking callbacks to.
// By default they're logged at error level.
func WithPanicHandler(fn func(later.Callback, error)) Option {
	return func(l *Loop) { l.onPanic = fn }
}

// Loop invokes the callbacks of a registry as they become due.
// A Loop must only be used by a single goroutine at a time.
type Loop struct {
	registry *later.Registry
	log      *slog.Logger
	maxBatch int
	idle     later.Duration
	onPanic  func(later.Callback, error)
}

// New creates a new loop consuming r.
func New(r *later.Registry, opts ...Option) *Loop {
	l := &Loop{
		registry: r,
		log:      slog.Default(),
		maxBatch: DefaultMaxBatch,
		idle:     DefaultIdleTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	if l.onPanic == nil {
		l.onPanic = func(c later.Callback, err error) {
			l.log.Error("callback panicked",
				"callback_id", c.ID.String(),
				"error", err,
			)
		}
	}
	return l
}

// Delay returns how long the host may sleep before the next callback is due.
// Returns 0 if a callback is already due and false if the registry is empty.
func (l *Loop) Delay() (later.Duration, bool) {
	next, ok := l.registry.NextTimestamp()
	if !ok {
		return 0, false
	}
	return max(next.Sub(l.registry.Now()), 0), true
}

// RunNow waits up to timeout for a callback to become due and then
// invokes the due callbacks one by one, either all of them or
// at most the configured max batch.
// Callbacks added while running, even if due immediately,
// are left for the next call.
// If a callback panics RunNow returns a *PanicError immediately and
// the callbacks that weren't invoked yet remain in the registry.
func (l *Loop) RunNow(
	ctx context.Context,
	timeout later.Duration,
	all bool,
) (ran bool, err error) {
	if err := l.waitDue(ctx, timeout); err != nil {
		return false, err
	}

	now := l.registry.Now()
	for n := 0; all || n < l.maxBatch; n++ {
		c := l.registry.TakeAt(1, now)
		if len(c) < 1 {
			break
		}
		ran = true
		if err := invoke(c[0]); err != nil {
			return ran, err
		}
	}
	return ran, nil
}

// Run invokes callbacks as they become due until ctx is done
// and returns ctx.Err().
// Panicking callbacks are passed to the panic handler.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Debug("starting callback loop", "pending", l.registry.Len())
	defer func() {
		l.log.Debug("callback loop stopped", "pending", l.registry.Len())
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		due := l.registry.Take(later.NoLimit)
		for _, c := range due {
			if err := invoke(c); err != nil {
				l.onPanic(c, err)
			}
		}
		if len(due) > 0 {
			l.log.Debug("invoked due callbacks", "count", len(due))
		}

		d, ok := l.Delay()
		if !ok {
			d = l.idle
		}
		if d < 1 {
			continue
		}
		if _, err := l.registry.WaitContext(ctx, d); err != nil {
			return err
		}
	}
}

// waitDue blocks until either a callback is due, the timeout elapses
// or ctx is done.
func (l *Loop) waitDue(ctx context.Context, timeout later.Duration) error {
	deadline := l.registry.Now().Add(timeout)
	for !l.registry.Due() {
		now := l.registry.Now()
		d := deadline.Sub(now)
		if d < 1 {
			return nil
		}
		if next, ok := l.registry.NextTimestamp(); ok && next.Sub(now) < d {
			d = next.Sub(now)
		}
		if _, err := l.registry.WaitContext(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func invoke(c later.Callback) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{ID: c.ID, Value: v, Stack: debug.Stack()}
		}
	}()
	c.Invoke()
	return nil
}

// PanicError is a panic recovered from a callback.
type PanicError struct {
	ID    later.ID
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callback %s panicked: %v", e.ID, e.Value)
}

// Unwrap returns the panic value if it's an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
