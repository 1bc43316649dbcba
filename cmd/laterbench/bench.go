package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"sync/atomic"
	"time"

	"github.com/romshark/later"
	"github.com/romshark/later/loop"

	"golang.org/x/sync/errgroup"
)

const (
	queueSkipList = "skiplist"
	queueHeap     = "heap"

	// pumpIdle is how long the pump sleeps while nothing is pending.
	pumpIdle = 100 * time.Millisecond
)

type config struct {
	Producers   int
	PerProducer int
	MaxDelay    time.Duration
	Queue       string
	Pump        bool
	MaxBatch    int
}

func (c config) validate() error {
	switch {
	case c.Producers < 1:
		return errors.New("producers must be positive")
	case c.PerProducer < 1:
		return errors.New("callbacks must be positive")
	case c.MaxDelay < 0:
		return errors.New("max delay must not be negative")
	case c.Queue != queueSkipList && c.Queue != queueHeap:
		return fmt.Errorf("unknown queue implementation: %q", c.Queue)
	}
	return nil
}

// entry is the data every benchmark callback is invoked with.
type entry struct {
	n        int
	deadline later.Timestamp
}

type bench struct {
	registry  *later.Registry
	metrics   *metrics
	invoked   []int32
	lateness  []time.Duration
	remaining atomic.Int64
	done      chan struct{}
}

// invoke is only ever called from the consumer goroutine.
func (b *bench) invoke(data any) {
	e := data.(*entry)
	atomic.AddInt32(&b.invoked[e.n], 1)

	late := b.registry.Now().Sub(e.deadline)
	b.lateness[e.n] = late
	b.metrics.invoked.Inc()
	b.metrics.lateness.Observe(late.Seconds())

	if b.remaining.Add(-1) == 0 {
		close(b.done)
	}
}

type report struct {
	Total    int
	Elapsed  time.Duration
	Lateness []time.Duration // sorted ascending
}

func (r report) log(logger *slog.Logger) {
	args := []any{
		"count", r.Total,
		"elapsed", r.Elapsed,
	}
	if n := len(r.Lateness); n > 0 {
		var total time.Duration
		for _, d := range r.Lateness {
			total += d
		}
		args = append(args,
			"lateness_mean_microseconds", (total / time.Duration(n)).Microseconds(),
			"lateness_median_microseconds", r.Lateness[n/2].Microseconds(),
			"lateness_p99_microseconds", r.Lateness[int(float64(n-1)*0.99)].Microseconds(),
			"lateness_max_microseconds", r.Lateness[n-1].Microseconds(),
		)
	}
	logger.Info("benchmark summary", args...)
}

// runBenchmark adds callbacks from concurrent producers while a single
// consumer invokes them and verifies that each callback ran exactly once.
func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	m *metrics,
	cfg config,
) (report, error) {
	if err := cfg.validate(); err != nil {
		return report{}, err
	}

	var q later.QueueReadWriter
	if cfg.Queue == queueHeap {
		q = later.NewHeapQueue()
	}
	total := cfg.Producers * cfg.PerProducer
	b := &bench{
		registry: later.NewWith(nil, q),
		metrics:  m,
		invoked:  make([]int32, total),
		lateness: make([]time.Duration, total),
		done:     make(chan struct{}),
	}
	b.remaining.Store(int64(total))

	l := loop.New(b.registry,
		loop.WithLogger(logger),
		loop.WithMaxBatch(cfg.MaxBatch),
		loop.WithPanicHandler(func(c later.Callback, err error) {
			m.panicked.Inc()
			logger.Error("callback panicked", "callback_id", c.ID.String(), "error", err)
		}),
	)

	logger.Info("starting benchmark",
		"producers", cfg.Producers,
		"callbacks", total,
		"max_delay", cfg.MaxDelay,
		"queue", cfg.Queue,
		"pump", cfg.Pump,
	)
	start := time.Now()

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumerDone := make(chan error, 1)
	go func() {
		if cfg.Pump {
			consumerDone <- pump(consumerCtx, l, logger)
			return
		}
		consumerDone <- l.Run(consumerCtx)
	}()
	stop := func() error {
		stopConsumer()
		if err := <-consumerDone; !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < cfg.Producers; p++ {
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(p)))
			for i := 0; i < cfg.PerProducer; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				delay := randomDelay(rnd, cfg.MaxDelay)
				e := &entry{
					n:        p*cfg.PerProducer + i,
					deadline: b.registry.Now().Add(delay),
				}
				if _, err := b.registry.AddFunc(b.invoke, e, delay); err != nil {
					return fmt.Errorf("adding callback %d: %w", e.n, err)
				}
				m.added.Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report{}, errors.Join(err, stop())
	}
	logger.Debug("all callbacks added", "elapsed", time.Since(start))

	select {
	case <-b.done:
	case <-ctx.Done():
		return report{}, errors.Join(ctx.Err(), stop())
	}
	if err := stop(); err != nil {
		return report{}, fmt.Errorf("consumer: %w", err)
	}

	for n, count := range b.invoked {
		if count != 1 {
			return report{}, fmt.Errorf("callback %d invoked %d times", n, count)
		}
	}
	if pending := b.registry.Len(); pending != 0 {
		return report{}, fmt.Errorf("%d callbacks left pending", pending)
	}

	slices.Sort(b.lateness)
	return report{
		Total:    total,
		Elapsed:  time.Since(start),
		Lateness: b.lateness,
	}, nil
}

// randomDelay returns a random delay in [0, limit].
func randomDelay(rnd *rand.Rand, limit time.Duration) time.Duration {
	n := int64(limit)
	if n < math.MaxInt64 {
		n++
	}
	return time.Duration(rnd.Int63n(n))
}

// pump consumes the registry the way an event loop host would:
// it sleeps until the next callback is due and then runs a batch.
func pump(ctx context.Context, l *loop.Loop, logger *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, ok := l.Delay()
		if !ok {
			d = pumpIdle
		}
		_, err := l.RunNow(ctx, d, false)
		var p *loop.PanicError
		switch {
		case errors.As(err, &p):
			logger.Error("callback panicked", "callback_id", p.ID.String(), "error", err)
		case err != nil:
			return err
		}
	}
}
