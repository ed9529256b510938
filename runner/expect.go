package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

var (
	// ErrTimeout is returned when navigation, a load state or the whole test
	// exceeds its deadline.
	ErrTimeout = errors.New("runner: timeout")
	// ErrImageNotReady is returned when an image never becomes loaded,
	// non-empty, visible and attached within the expect timeout.
	ErrImageNotReady = errors.New("runner: image not ready")
)

// pollInterval is the delay between two evaluations of an expectation.
const pollInterval = 100 * time.Millisecond

// expect polls cond until it holds or timeout elapses. cond returns whether
// the expectation holds; an error from cond is retried like a false result.
func expect(ctx context.Context, timeout time.Duration, what string, cond func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last error
	err := retry.Do(func() error {
		ok, err := cond(ctx)
		switch {
		case err != nil:
			last = err
		case !ok:
			last = errors.New("condition not met")
		default:
			last = nil
		}
		return last
	},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	return fmt.Errorf("expect %s (timeout %s): %w", what, timeout, last)
}

// asTimeout maps a context deadline to ErrTimeout while keeping the cause.
func asTimeout(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("runner: %s: %w", op, err)
}
