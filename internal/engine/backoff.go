package engine

import (
	"context"
	"time"

	coreerrors "github.com/benedict-anokye/forgetrade/internal/core/errors"
)

// backoffPolicy is the bounded-timeout retry policy from §5: base 1s,
// factor 2, cap 30s, at most 5 attempts, applied only to transient broker
// errors. A permanent broker error or a non-broker error aborts the retry
// immediately.
type backoffPolicy struct {
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	MaxRetries int
}

func defaultBackoff() backoffPolicy {
	return backoffPolicy{Base: time.Second, Factor: 2, Cap: 30 * time.Second, MaxRetries: 4}
}

// retryBroker invokes fn, retrying on BrokerTransientError per the backoff
// policy. It returns the last error seen once attempts are exhausted or a
// non-transient error occurs.
func retryBroker(ctx context.Context, policy backoffPolicy, fn func() error) error {
	delay := policy.Base
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var transient *coreerrors.BrokerTransientError
		if !asBrokerTransient(lastErr, &transient) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= time.Duration(policy.Factor)
		if delay > policy.Cap {
			delay = policy.Cap
		}
	}
	return lastErr
}

func asBrokerTransient(err error, target **coreerrors.BrokerTransientError) bool {
	for err != nil {
		if t, ok := err.(*coreerrors.BrokerTransientError); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
