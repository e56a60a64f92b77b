package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails once more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// LagCheck fails when the backlog measured by lag is older than limit. It is
// used to take an instance out of rotation when its event relay stalls.
func LagCheck(lag func(ctx context.Context) (time.Duration, error), limit time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		d, err := lag(ctx)
		if err != nil {
			return errors.Wrap(err, "measure lag")
		}
		if d > limit {
			return errors.Errorf("backlog is %s old, limit %s", d.Truncate(time.Second), limit)
		}
		return nil
	}
}
