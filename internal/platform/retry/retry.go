package retry

import (
	"context"
	"time"

	"github.com/orderlens/orderlens-backend/internal/platform/apperr"
	"github.com/orderlens/orderlens-backend/internal/platform/httpx"
)

// Policy is the exponential-backoff retry policy applied to every external
// call the pipeline makes.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 4,
		BaseDelay:  2 * time.Second,
		MaxDelay:   15 * time.Second,
	}
}

// Monitor receives per-attempt outcomes. The context is the caller's, so
// implementations can pick up request-scoped tags (ctxutil.RunInfoFrom).
// Implementations must be safe for concurrent use.
type Monitor interface {
	Success(ctx context.Context, op string)
	Failure(ctx context.Context, op string, err error)
	Retry(ctx context.Context, op string, attempt int, err error)
}

// Do runs fn under the policy. Only errors classified retryable by apperr
// or httpx are retried; everything else returns immediately.
func Do[T any](ctx context.Context, p Policy, mon Monitor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	var last error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, apperr.E(apperr.KindCancelled, op, err)
		}
		out, err := fn(ctx)
		if err == nil {
			if mon != nil {
				mon.Success(ctx, op)
			}
			return out, nil
		}
		last = err
		if apperr.IsCancelled(err) {
			break
		}
		if !apperr.IsRetryable(err) && !httpx.IsRetryableError(err) {
			break
		}
		if attempt == p.MaxRetries {
			break
		}
		if mon != nil {
			mon.Retry(ctx, op, attempt+1, err)
		}
		select {
		case <-ctx.Done():
			return zero, apperr.E(apperr.KindCancelled, op, ctx.Err())
		case <-time.After(httpx.JitterSleep(delay)):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	if mon != nil {
		mon.Failure(ctx, op, last)
	}
	return zero, last
}
