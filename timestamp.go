package later

import (
	"math"
	"time"
)

type Duration = time.Duration

const (
	Nanosecond  = time.Nanosecond
	Microsecond = time.Microsecond
	Millisecond = time.Millisecond
	Second      = time.Second
	Minute      = time.Minute
	Hour        = time.Hour
)

// origin is the point on the monotonic clock that the zero Timestamp represents.
var origin = time.Now()

// Timestamp is an absolute point in time on the process' monotonic clock.
// The zero Timestamp is never after Now and is therefore always due.
type Timestamp struct {
	ns int64 // nanoseconds since origin
}

// Now returns the current monotonic time.
// Wall clock adjustments don't affect it.
func Now() Timestamp {
	return Timestamp{ns: int64(time.Since(origin))}
}

// FromNow returns Now shifted by d.
// A negative or zero d yields a timestamp that's already due.
func FromNow(d Duration) Timestamp {
	return Now().Add(d)
}

// Seconds converts fractional seconds to a Duration.
// Values beyond the range of Duration are clamped.
func Seconds(secs float64) Duration {
	ns := secs * float64(time.Second)
	switch {
	case math.IsNaN(ns):
		return 0
	case ns >= math.MaxInt64:
		return math.MaxInt64
	case ns <= math.MinInt64:
		return math.MinInt64
	}
	return Duration(ns)
}

// Add returns t shifted by d.
func (t Timestamp) Add(d Duration) Timestamp {
	switch {
	case d > 0 && t.ns > math.MaxInt64-int64(d):
		return Timestamp{ns: math.MaxInt64}
	case d < 0 && t.ns < math.MinInt64-int64(d):
		return Timestamp{ns: math.MinInt64}
	}
	return Timestamp{ns: t.ns + int64(d)}
}

// Sub returns the duration t-u.
// The result is clamped to the range of Duration on overflow.
func (t Timestamp) Sub(u Timestamp) Duration {
	switch {
	case u.ns < 0 && t.ns > math.MaxInt64+u.ns:
		return Duration(math.MaxInt64)
	case u.ns > 0 && t.ns < math.MinInt64+u.ns:
		return Duration(math.MinInt64)
	}
	return Duration(t.ns - u.ns)
}

func (t Timestamp) Before(u Timestamp) bool { return t.ns < u.ns }
func (t Timestamp) After(u Timestamp) bool  { return t.ns > u.ns }
func (t Timestamp) Equal(u Timestamp) bool  { return t.ns == u.ns }

// Compare returns -1 if t is before u, +1 if t is after u and 0 otherwise.
func (t Timestamp) Compare(u Timestamp) int {
	switch {
	case t.ns < u.ns:
		return -1
	case t.ns > u.ns:
		return 1
	}
	return 0
}

// IsZero reports whether t is the zero Timestamp.
func (t Timestamp) IsZero() bool { return t.ns == 0 }

// String returns the time elapsed since the process' clock origin, e.g. "T+1.5s".
func (t Timestamp) String() string {
	if t.ns < 0 {
		return "T" + Duration(t.ns).String()
	}
	return "T+" + Duration(t.ns).String()
}

type Timer interface {
	Stop() bool
	Reset(Duration) bool
}

// TimeProvider is the clock a Registry reads deadlines from
// and arms wait timeouts with.
type TimeProvider interface {
	Now() Timestamp
	AfterFunc(Duration, func()) Timer
}

type timeProvider struct{}

func (p timeProvider) Now() Timestamp {
	return Now()
}

func (p timeProvider) AfterFunc(d Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
