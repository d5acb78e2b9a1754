package decision

import (
	"context"
	"errors"
	"time"
)

// retryCapability wraps a Capability with bounded, error-only retries and a
// hard per-call timeout. Transient failures are retried with doubling
// backoff; context cancellation and deadline expiry are never retried.
type retryCapability struct {
	next        Capability
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
}

// WithRetry wraps cap with the retry policy from cfg. A MaxAttempts of zero
// or one disables retries; the per-call timeout still applies.
func WithRetry(cap Capability, cfg Config) Capability {
	if cap == nil {
		return nil
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &retryCapability{
		next:        cap,
		maxAttempts: attempts,
		timeout:     cfg.Timeout,
		backoff:     backoff,
	}
}

func (r *retryCapability) Decide(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	delay := r.backoff
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		d, err := r.decideOnce(ctx, req)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if attempt == r.maxAttempts || !retryable(ctx, err) {
			break
		}
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if !errors.Is(lastErr, ErrUnavailable) && !errors.Is(lastErr, context.Canceled) {
		// Any backend failure surfaces to the loop as unavailability.
		lastErr = errors.Join(ErrUnavailable, lastErr)
	}
	return Decision{}, lastErr
}

func (r *retryCapability) decideOnce(ctx context.Context, req Request) (Decision, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.next.Decide(ctx, req)
}

func (r *retryCapability) Available() bool {
	return r.next.Available()
}

// Close forwards to the wrapped capability if it holds resources.
func (r *retryCapability) Close() error {
	if c, ok := r.next.(Closer); ok {
		return c.Close()
	}
	return nil
}

// retryable reports whether err is worth another attempt. The outer context
// being done always stops retries; per-attempt deadline expiry is treated
// as transient.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
