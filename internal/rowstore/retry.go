package rowstore

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	logx "deadlinebot/pkg/logx"
)

// RetryPolicy bounds how often a transient failure is retried.
//
// Attempts is the total number of calls, including the first. Delay maps
// the 1-based attempt that just failed to the wait before the next one.
// Sleep waits for d or until ctx ends; tests replace it to avoid real delays.
type RetryPolicy struct {
	Attempts int
	Delay    func(attempt int, err error) time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries three times with jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 4,
		Delay:    Backoff(500*time.Millisecond, 10*time.Second, 0.2),
		Sleep:    SleepContext,
	}
}

// Backoff doubles base on every attempt up to maxDelay and applies
// +/- jitter. A rate-limit hint longer than the computed delay wins.
func Backoff(base, maxDelay time.Duration, jitter float64) func(int, error) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return func(attempt int, err error) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= maxDelay {
				d = maxDelay
				break
			}
		}
		if jitter > 0 {
			r := (rand.Float64()*2 - 1) * jitter
			d = time.Duration(float64(d) * (1 + r))
		}
		if hint := retryAfterHint(err); hint > d {
			d = hint
		}
		if d > maxDelay {
			d = maxDelay
		}
		if d < 0 {
			d = 0
		}
		return d
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls op until it succeeds, fails with a non-transient error, or
// the attempt budget runs out. Exhaustion returns an error matching both
// ErrStoreUnavailable and the last cause.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		var d time.Duration
		if p.Delay != nil {
			d = p.Delay(attempt, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, serr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrStoreUnavailable, attempts, err)
}

// WithRetry wraps next so every call goes through Retry.
func WithRetry(next Store, p RetryPolicy, log logx.Logger) Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &retrying{next: next, policy: p, log: log}
}

type retrying struct {
	next   Store
	policy RetryPolicy
	log    logx.Logger
}

func (r *retrying) do(ctx context.Context, op, table string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := Retry(ctx, r.policy, func(c context.Context) error {
		attempt++
		err := fn(c)
		if err != nil && IsTransient(err) {
			r.log.Debug("row store call failed; retrying", logx.String("op", op), logx.String("table", table), logx.Int("attempt", attempt), logx.Err(err))
		}
		return err
	})
	if err != nil {
		r.log.Warn("row store call failed", logx.String("op", op), logx.String("table", table), logx.Int("attempts", attempt), logx.Err(err))
	}
	return err
}

func (r *retrying) ReadTable(ctx context.Context, name string) ([][]string, error) {
	var rows [][]string
	err := r.do(ctx, "read", name, func(c context.Context) error {
		var err error
		rows, err = r.next.ReadTable(c, name)
		return err
	})
	return rows, err
}

func (r *retrying) AppendRow(ctx context.Context, name string, row []string) error {
	return r.do(ctx, "append", name, func(c context.Context) error {
		return r.next.AppendRow(c, name, row)
	})
}

func (r *retrying) DeleteRow(ctx context.Context, name string, index int) error {
	return r.do(ctx, "delete", name, func(c context.Context) error {
		return r.next.DeleteRow(c, name, index)
	})
}

func (r *retrying) Close() error { return r.next.Close() }
