package retry

import (
	"context"
	"time"
)

// Clock abstracts time so waits can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// PollUntil calls probe immediately and then every interval until it reports
// success, the timeout elapses or ctx is done. It returns the last value the
// probe produced and whether it succeeded.
func PollUntil[T any](
	ctx context.Context,
	clk Clock,
	interval, timeout time.Duration,
	probe func(ctx context.Context) (T, bool),
) (T, bool) {
	if clk == nil {
		clk = SystemClock{}
	}
	deadline := clk.Now().Add(timeout)

	var last T
	for {
		v, ok := probe(ctx)
		last = v
		if ok {
			return last, true
		}

		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			return last, false
		}
		wait := interval
		if wait <= 0 || wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return last, false
		case <-clk.After(wait):
		}
	}
}
