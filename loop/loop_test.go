package loop_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/romshark/later"
	"github.com/romshark/later/loop"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// logBuffer is a bytes.Buffer safe for use by a logger
// and a test at the same time.
type logBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

func TestDelay(t *testing.T) {
	r := later.New()
	l := loop.New(r, loop.WithLogger(testLogger()))

	_, ok := l.Delay()
	require.False(t, ok)

	_, err := r.Add(func() {}, later.Hour)
	require.NoError(t, err)
	d, ok := l.Delay()
	require.True(t, ok)
	require.Greater(t, d, 59*later.Minute)
	require.LessOrEqual(t, d, later.Hour)

	_, err = r.Add(func() {}, -later.Second)
	require.NoError(t, err)
	d, ok = l.Delay()
	require.True(t, ok)
	require.Zero(t, d)
}

func TestRunNowEmpty(t *testing.T) {
	l := loop.New(later.New(), loop.WithLogger(testLogger()))

	ran, err := l.RunNow(context.Background(), 0, true)
	require.NoError(t, err)
	require.False(t, ran)
}

func TestRunNowBatch(t *testing.T) {
	r := later.New()

	var order []int
	for i := 0; i < 5; i++ {
		_, err := r.Add(func() { order = append(order, i) }, 0)
		require.NoError(t, err)
	}

	l := loop.New(r, loop.WithLogger(testLogger()))
	ran, err := l.RunNow(context.Background(), 0, false)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, []int{0}, order)

	l = loop.New(r, loop.WithLogger(testLogger()), loop.WithMaxBatch(2))
	ran, err = l.RunNow(context.Background(), 0, false)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, []int{0, 1, 2}, order)

	ran, err = l.RunNow(context.Background(), 0, true)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
	require.True(t, r.Empty())
}

func TestRunNowWaitsForDue(t *testing.T) {
	r := later.New()
	l := loop.New(r, loop.WithLogger(testLogger()))

	invoked := false
	_, err := r.Add(func() { invoked = true }, 20*later.Millisecond)
	require.NoError(t, err)

	begin := time.Now()
	ran, err := l.RunNow(context.Background(), 5*later.Second, true)
	require.NoError(t, err)
	require.True(t, ran)
	require.True(t, invoked)
	require.GreaterOrEqual(t, time.Since(begin), 20*time.Millisecond)
	require.Less(t, time.Since(begin), 5*time.Second)
}

func TestRunNowTimeout(t *testing.T) {
	r := later.New()
	l := loop.New(r, loop.WithLogger(testLogger()))

	_, err := r.Add(func() { t.Error("invoked before deadline") }, later.Hour)
	require.NoError(t, err)

	begin := time.Now()
	ran, err := l.RunNow(context.Background(), 30*later.Millisecond, true)
	require.NoError(t, err)
	require.False(t, ran)
	require.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)
	require.Equal(t, 1, r.Len())
}

func TestRunNowMaxTimeout(t *testing.T) {
	r := later.New()
	l := loop.New(r, loop.WithLogger(testLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	begin := time.Now()
	ran, err := l.RunNow(ctx, math.MaxInt64, true)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, ran)
	require.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)

	var invoked atomic.Bool
	_, err = r.Add(func() { invoked.Store(true) }, 20*later.Millisecond)
	require.NoError(t, err)

	begin = time.Now()
	ran, err = l.RunNow(context.Background(), math.MaxInt64, true)
	require.NoError(t, err)
	require.True(t, ran)
	require.True(t, invoked.Load())
	require.GreaterOrEqual(t, time.Since(begin), 20*time.Millisecond)
}

func TestRunNowCanceled(t *testing.T) {
	l := loop.New(later.New(), loop.WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran, err := l.RunNow(ctx, later.Hour, true)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ran)
}

func TestRunNowPanic(t *testing.T) {
	r := later.New()
	l := loop.New(r, loop.WithLogger(testLogger()))

	var order []int
	_, err := r.Add(func() { order = append(order, 1) }, 0)
	require.NoError(t, err)
	id, err := r.Add(func() { panic("boom") }, 0)
	require.NoError(t, err)
	_, err = r.Add(func() { order = append(order, 3) }, 0)
	require.NoError(t, err)

	ran, err := l.RunNow(context.Background(), 0, true)
	require.True(t, ran)

	var p *loop.PanicError
	require.ErrorAs(t, err, &p)
	require.Equal(t, id, p.ID)
	require.Equal(t, "boom", p.Value)
	require.NotEmpty(t, p.Stack)
	require.Equal(t, []int{1}, order)

	// The remaining callback stays queued.
	require.Equal(t, 1, r.Len())
	ran, err = l.RunNow(context.Background(), 0, true)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, []int{1, 3}, order)
}

func TestPanicErrorUnwrap(t *testing.T) {
	r := later.New()
	l := loop.New(r, loop.WithLogger(testLogger()))

	_, err := r.Add(func() { panic(io.ErrUnexpectedEOF) }, 0)
	require.NoError(t, err)

	_, err = l.RunNow(context.Background(), 0, true)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Contains(t, err.Error(), "panicked: unexpected EOF")
}

func TestRunNowSkipsCallbacksAddedWhileRunning(t *testing.T) {
	r := later.New()
	l := loop.New(r, loop.WithLogger(testLogger()))

	count := 0
	var reschedule func()
	reschedule = func() {
		count++
		_, err := r.Add(reschedule, 0)
		require.NoError(t, err)
	}
	_, err := r.Add(reschedule, -later.Millisecond)
	require.NoError(t, err)

	ran, err := l.RunNow(context.Background(), 0, true)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 1, count)
	require.Equal(t, 1, r.Len())
}

func TestRun(t *testing.T) {
	r := later.New()

	var lock sync.Mutex
	var panics []error
	l := loop.New(r,
		loop.WithLogger(testLogger()),
		loop.WithIdleTimeout(10*later.Millisecond),
		loop.WithPanicHandler(func(c later.Callback, err error) {
			lock.Lock()
			defer lock.Unlock()
			panics = append(panics, err)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	const total = 50
	var wg sync.WaitGroup
	wg.Add(total)
	for i := 0; i < total; i++ {
		_, err := r.Add(wg.Done, later.Duration(i%5)*later.Millisecond)
		require.NoError(t, err)
	}
	_, err := r.Add(func() { panic(errors.New("callback failed")) }, 0)
	require.NoError(t, err)

	wg.Wait()
	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(panics) == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop didn't stop")
	}
	require.True(t, r.Empty())
}

func TestRunLogsPendingOnStop(t *testing.T) {
	r := later.New()
	var out logBuffer
	l := loop.New(r, loop.WithLogger(slog.New(slog.NewTextHandler(&out,
		&slog.HandlerOptions{Level: slog.LevelDebug},
	))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `msg="starting callback loop" pending=0`)
	}, time.Second, time.Millisecond)

	_, err := r.Add(func() { t.Error("invoked before deadline") }, later.Hour)
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop didn't stop")
	}
	require.Contains(t, out.String(), `msg="callback loop stopped" pending=1`)
}
