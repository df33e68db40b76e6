package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
)

// ErrTimeout is returned when MaxWait elapses before the check completes.
var ErrTimeout = errors.New("poll: timed out")

// Options configures a poll loop.
type Options struct {
	// Interval is the delay before the second check.
	Interval time.Duration

	// Multiplier grows the delay after every check. Values <= 1 keep the
	// interval fixed.
	Multiplier float64

	// MaxInterval caps the grown delay. Zero means no cap.
	MaxInterval time.Duration

	// MaxWait bounds the total time spent polling. Zero means no bound.
	MaxWait time.Duration

	// Clock is used for all waiting. Default: the real clock.
	Clock clock.Clock
}

// Fixed returns options polling every interval for at most maxWait.
func Fixed(interval, maxWait time.Duration) Options {
	return Options{Interval: interval, MaxWait: maxWait}
}

// Validate checks the options for errors.
func (o Options) Validate() error {
	if o.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", o.Interval)
	}
	if o.MaxInterval != 0 && o.MaxInterval < o.Interval {
		return fmt.Errorf("max poll interval %s is below interval %s", o.MaxInterval, o.Interval)
	}
	if o.MaxWait < 0 {
		return fmt.Errorf("max wait must not be negative, got %s", o.MaxWait)
	}
	return nil
}

// CheckFunc reports whether polling is finished. A non-nil error stops the
// loop and is returned unchanged.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Until runs check immediately and then after every interval until it is done.
func Until(ctx context.Context, opts Options, check CheckFunc) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	start := clk.Now()
	interval := opts.Interval

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if opts.MaxWait > 0 && clk.Since(start) >= opts.MaxWait {
			return fmt.Errorf("%w after %s", ErrTimeout, opts.MaxWait)
		}

		timer := clk.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}

		interval = next(interval, opts)
	}
}

func next(d time.Duration, opts Options) time.Duration {
	if opts.Multiplier <= 1 {
		return d
	}
	d = time.Duration(float64(d) * opts.Multiplier)
	if opts.MaxInterval > 0 && d > opts.MaxInterval {
		d = opts.MaxInterval
	}
	return d
}
