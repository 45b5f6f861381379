package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pscheid92/stockrelay/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
}

func alwaysRetry(error) retry.Action { return retry.Retry }

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	val, err := retry.Do(context.Background(), p, alwaysRetry, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection refused")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cause := errors.New("connection refused")
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, alwaysRetry, func(context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_StopIsPermanent(t *testing.T) {
	cause := errors.New("invalid URL")
	calls := 0
	err := retry.DoVoid(context.Background(), fastPolicy, func(error) retry.Action { return retry.Stop }, func(context.Context) error {
		calls++
		return cause
	})

	var permanent *retry.PermanentError
	require.ErrorAs(t, err, &permanent)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 5, InitialBackoff: time.Hour}

	err := retry.DoVoid(ctx, p, alwaysRetry, func(context.Context) error {
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_InvalidPolicy(t *testing.T) {
	err := retry.DoVoid(context.Background(), retry.Policy{}, alwaysRetry, func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestTransient(t *testing.T) {
	assert.Equal(t, retry.Stop, retry.Transient(context.Canceled))
	assert.Equal(t, retry.Stop, retry.Transient(context.DeadlineExceeded))
	assert.Equal(t, retry.Retry, retry.Transient(errors.New("dial tcp: connection refused")))
}
