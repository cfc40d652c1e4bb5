package common

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryConfig bounds an exponential backoff retry loop.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryConfig is used for store writes that must not be silently lost.
var DefaultRetryConfig = RetryConfig{
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  30 * time.Second,
	MaxRetries:      8,
}

// NewBackOff builds the backoff policy described by cfg, bound to ctx.
func (cfg RetryConfig) NewBackOff(ctx context.Context) backoff.BackOff {
	expBackoff := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		expBackoff.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		expBackoff.MaxInterval = cfg.MaxInterval
	}
	expBackoff.MaxElapsedTime = cfg.MaxElapsedTime

	var b backoff.BackOff = expBackoff
	if cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, cfg.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// Retry runs op until it succeeds, returns a permanent error (see Permanent),
// the policy is exhausted or ctx is done. notify, when non-nil, is called
// before every wait.
func Retry(ctx context.Context, cfg RetryConfig, op func() error, notify func(err error, wait time.Duration)) error {
	if notify == nil {
		return backoff.Retry(op, cfg.NewBackOff(ctx))
	}
	return backoff.RetryNotify(op, cfg.NewBackOff(ctx), notify)
}

// Permanent marks err so Retry stops immediately and returns it.
func Permanent(err error) error { return backoff.Permanent(err) }
