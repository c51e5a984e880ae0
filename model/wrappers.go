package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/groupmesh/logging"
)

// RateLimited serializes access to a shared oracle client through a token
// bucket so many conversations can share one backend.
type RateLimited struct {
	inner   Model
	limiter *rate.Limiter
}

// NewRateLimited wraps m so every Generate call waits for limiter first.
func NewRateLimited(m Model, limiter *rate.Limiter) *RateLimited {
	return &RateLimited{inner: m, limiter: limiter}
}

// NewRateLimitedPerSecond is shorthand for a limiter allowing rps calls per
// second with the given burst.
func NewRateLimitedPerSecond(m Model, rps float64, burst int) *RateLimited {
	return NewRateLimited(m, rate.NewLimiter(rate.Limit(rps), burst))
}

// Generate implements Model.
func (r *RateLimited) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if err := r.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			errCh <- fmt.Errorf("rate limit: %w", err)
			return
		}

		respCh, innerErr := r.inner.Generate(ctx, req)
		forward(ctx, respCh, innerErr, out, errCh)
	}()

	return out, errCh
}

// Info implements Model.
func (r *RateLimited) Info() Info { return r.inner.Info() }

// RetryOptions configures NewRetrying.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts including the first call.
	MaxAttempts int
	// Backoff is the delay before the second attempt.
	Backoff time.Duration
	// Multiplier grows the backoff after each failed attempt.
	Multiplier float64
	// Retryable decides whether an error should be retried.
	Retryable func(error) bool
	Logger    logging.Logger
}

// Retrying re-issues failed oracle calls with exponential backoff. Responses
// of a failed attempt are discarded so callers never see partial output from
// an attempt that did not complete.
type Retrying struct {
	inner Model
	opts  RetryOptions
}

// NewRetrying wraps m with retry behaviour.
func NewRetrying(m Model, optFns ...func(o *RetryOptions)) *Retrying {
	opts := RetryOptions{
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
		Multiplier:  2,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Retrying{inner: m, opts: opts}
}

// Generate implements Model.
func (r *Retrying) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		backoff := r.opts.Backoff
		var lastErr error
		for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
			buffered, err := collect(ctx, r.inner, req)
			if err == nil {
				for _, resp := range buffered {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- resp:
					}
				}
				return
			}
			lastErr = err
			if ctx.Err() != nil || !r.opts.Retryable(err) || attempt == r.opts.MaxAttempts {
				break
			}

			r.opts.Logger.Warn("model.retry", "model", r.inner.Info().Name, "attempt", attempt, "error", err.Error())

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				errCh <- ctx.Err()
				return
			case <-timer.C:
			}
			backoff = time.Duration(float64(backoff) * r.opts.Multiplier)
		}
		errCh <- lastErr
	}()

	return out, errCh
}

// Info implements Model.
func (r *Retrying) Info() Info { return r.inner.Info() }

// collect drains one Generate call, returning every response or the first error.
func collect(ctx context.Context, m Model, req Request) ([]Response, error) {
	respCh, errCh := m.Generate(ctx, req)
	var (
		out []Response
		err error
	)
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			out = append(out, r)
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil && err == nil {
				err = e
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// forward relays an inner Generate call to the outer channels.
func forward(ctx context.Context, respCh <-chan Response, innerErr <-chan error, out chan<- Response, errCh chan<- error) {
	for respCh != nil || innerErr != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		case e, ok := <-innerErr:
			if !ok {
				innerErr = nil
				continue
			}
			if e != nil {
				errCh <- e
				return
			}
		}
	}
}
