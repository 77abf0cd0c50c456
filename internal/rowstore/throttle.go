package rowstore

import (
	"context"

	"golang.org/x/time/rate"
)

// WithThrottle enforces a client-side request quota in front of next.
// Calls over the quota fail fast with a RateLimited error carrying the
// wait until a token is available, so WithRetry can back off.
func WithThrottle(next Store, perSec float64, burst int) Store {
	if perSec <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &throttled{next: next, lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

type throttled struct {
	next Store
	lim  *rate.Limiter
}

func (t *throttled) take() error {
	r := t.lim.Reserve()
	if !r.OK() {
		return RateLimited(0)
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return RateLimited(d)
	}
	return nil
}

func (t *throttled) ReadTable(ctx context.Context, name string) ([][]string, error) {
	if err := t.take(); err != nil {
		return nil, err
	}
	return t.next.ReadTable(ctx, name)
}

func (t *throttled) AppendRow(ctx context.Context, name string, row []string) error {
	if err := t.take(); err != nil {
		return err
	}
	return t.next.AppendRow(ctx, name, row)
}

func (t *throttled) DeleteRow(ctx context.Context, name string, index int) error {
	if err := t.take(); err != nil {
		return err
	}
	return t.next.DeleteRow(ctx, name, index)
}

func (t *throttled) Close() error { return t.next.Close() }
