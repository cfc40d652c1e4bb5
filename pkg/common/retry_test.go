package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	MaxElapsedTime:  time.Second,
	MaxRetries:      5,
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	sentinel := errors.New("bad input")
	attempts := 0
	err := Retry(context.Background(), fastRetry, func() error {
		attempts++
		return Permanent(sentinel)
	}, nil)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ExhaustsMaxRetries(t *testing.T) {
	attempts := 0
	var notified int
	err := Retry(context.Background(), fastRetry, func() error {
		attempts++
		return errors.New("still down")
	}, func(error, time.Duration) { notified++ })

	assert.Error(t, err)
	assert.Equal(t, int(fastRetry.MaxRetries)+1, attempts)
	assert.Equal(t, int(fastRetry.MaxRetries), notified)
}

func TestRateLimiter_UnlimitedWhenNonPositive(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for range 100 {
		require.NoError(t, rl.Wait(ctx))
	}
}
