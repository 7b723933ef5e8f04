package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WolfwithSword/TwitchChatDND/internal/platform/retry"
)

var fastPolicy = retry.Policy{
	MaxAttempts:      3,
	InitialBackoff:   1 * time.Millisecond,
	RateLimitBackoff: 5 * time.Millisecond,
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	_, err := retry.Do(context.Background(), fastPolicy, retry.RetryAll, func() (struct{}, error) {
		return struct{}{}, nil
	})
	require.NoError(t, err)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, retry.RetryAll, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, retry.RetryAll, func() (struct{}, error) {
		calls++
		return struct{}{}, errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopIsPermanent(t *testing.T) {
	calls := 0
	classify := func(error) retry.Action { return retry.Stop }
	_, err := retry.Do(context.Background(), fastPolicy, classify, func() (struct{}, error) {
		calls++
		return struct{}{}, errors.New("bad credentials")
	})

	var perm *retry.PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastPolicy
	p.InitialBackoff = time.Hour

	_, err := retry.Do(ctx, p, retry.RetryAll, func() (struct{}, error) {
		return struct{}{}, errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoVoid(t *testing.T) {
	err := retry.DoVoid(context.Background(), fastPolicy, retry.RetryAll, func() error { return nil })
	require.NoError(t, err)
}
