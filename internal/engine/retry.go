package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RetryPolicy controls how a stage retries transient provider failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor applied to each delay, in [0, 1).
	Jitter float64
	// CallTimeout bounds a single provider call. Zero means no limit beyond
	// the run context.
	CallTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      0.2,
		CallTimeout: 30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	return b
}

// retryNotice is passed to the retry callback before each wait.
type retryNotice struct {
	Attempt int
	Err     error
	Wait    time.Duration
}

// callWithRetry calls the provider until it succeeds, fails permanently or
// runs out of attempts. It returns the number of attempts made. Every attempt
// waits on the limiter first and runs under the policy's call timeout.
func callWithRetry(
	ctx context.Context,
	provider Provider,
	prompt Prompt,
	policy RetryPolicy,
	limiter *rate.Limiter,
	onRetry func(retryNotice),
) (*Completion, int, error) {
	policy = policy.withDefaults()
	attempts := 0

	op := func() (*Completion, error) {
		attempts++
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		callCtx := ctx
		if policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
			defer cancel()
		}
		c, err := provider.Generate(callCtx, prompt)
		if err == nil {
			return c, nil
		}
		// The run itself was cancelled or timed out: stop here.
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	c, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if onRetry != nil {
				onRetry(retryNotice{Attempt: attempts, Err: err, Wait: wait})
			}
		}),
	)
	return c, attempts, err
}
