package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	coreerrors "github.com/benedict-anokye/forgetrade/internal/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBroker_SucceedsWithoutRetryOnNilError(t *testing.T) {
	calls := 0
	err := retryBroker(context.Background(), defaultBackoff(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryBroker_AbortsImmediatelyOnPermanentError(t *testing.T) {
	calls := 0
	permanent := &coreerrors.BrokerPermanentError{Op: "place_order", Err: errors.New("bad request")}
	err := retryBroker(context.Background(), defaultBackoff(), func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryBroker_RetriesTransientUntilExhausted(t *testing.T) {
	policy := backoffPolicy{Base: time.Millisecond, Factor: 2, Cap: 10 * time.Millisecond, MaxRetries: 3}
	calls := 0
	transient := &coreerrors.BrokerTransientError{Op: "fetch_candles", Err: errors.New("timeout")}
	err := retryBroker(context.Background(), policy, func() error {
		calls++
		return transient
	})
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, policy.MaxRetries+1, calls)
}

func TestRetryBroker_RecoversAfterTransientFailures(t *testing.T) {
	policy := backoffPolicy{Base: time.Millisecond, Factor: 2, Cap: 10 * time.Millisecond, MaxRetries: 5}
	calls := 0
	err := retryBroker(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return &coreerrors.BrokerTransientError{Op: "place_order", Err: errors.New("503")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryBroker_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := backoffPolicy{Base: time.Second, Factor: 2, Cap: 30 * time.Second, MaxRetries: 5}
	err := retryBroker(ctx, policy, func() error {
		return &coreerrors.BrokerTransientError{Op: "fetch_candles", Err: errors.New("timeout")}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
