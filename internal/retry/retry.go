// Package retry implements the bounded reconnect loop used by the
// persistence gateway (database reconnect, spec §7.2: "database
// disconnects trigger a bounded reconnect loop (≤30s total)") and by
// the link engine's uplink reconnect timer (spec §4.1, §5).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when the overall budget elapses.
	ErrTimeout = errors.New("retry: timeout exceeded")
	// ErrMaxAttemptsReached is returned when Options.MaxAttempts is hit.
	ErrMaxAttemptsReached = errors.New("retry: maximum attempts reached")
	// ErrCanceled is returned when the caller's context is canceled.
	ErrCanceled = errors.New("retry: operation canceled")
)

// Condition returns true once the retried operation has succeeded.
type Condition func() (bool, error)

// Strategy produces the wait between attempts.
type Strategy interface {
	Next() time.Duration
	Reset()
}

// Options bounds a retry loop.
type Options struct {
	MaxAttempts int
	Budget      time.Duration
	Strategy    Strategy
	Context     context.Context
}

// DefaultOptions matches the source daemon's database reconnect bound:
// unlimited attempts within a 30 second wall-clock budget, one second
// apart.
func DefaultOptions() *Options {
	return &Options{
		Budget:   30 * time.Second,
		Strategy: NewFixedStrategy(time.Second),
		Context:  context.Background(),
	}
}

func (o *Options) withDefaults() *Options {
	if o == nil {
		return DefaultOptions()
	}
	if o.Strategy == nil {
		o.Strategy = NewFixedStrategy(time.Second)
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Budget == 0 {
		o.Budget = 30 * time.Second
	}
	return o
}

// Until retries condition until it reports success, the attempt cap is
// hit, or the budget elapses.
func Until(condition Condition, opts *Options) error {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(opts.Context, opts.Budget)
	defer cancel()

	opts.Strategy.Reset()
	attempts := 0

	for {
		ok, err := condition()
		if err != nil {
			return fmt.Errorf("retry: condition error: %w", err)
		}
		if ok {
			return nil
		}

		attempts++
		if opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts {
			return ErrMaxAttemptsReached
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ErrTimeout
			}
			return ErrCanceled
		case <-time.After(opts.Strategy.Next()):
		}
	}
}

// Poll retries fn (treated as succeeding when it returns nil) under
// the same bound as Until. Used by the store package to wrap a
// reconnect attempt and by the link engine to wrap a dial attempt.
func Poll(fn func() error, opts *Options) error {
	return Until(func() (bool, error) {
		err := fn()
		return err == nil, nil
	}, opts)
}
