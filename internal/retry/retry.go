// Package retry is the one bounded-retry wrapper used at every outbound call
// site (payment gateway, provisioning).
package retry

import (
	"context"
	"time"

	"invite-service/internal/config"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

type Policy struct {
	Attempts       uint
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	// AttemptTimeout bounds each call; zero leaves only the parent deadline.
	AttemptTimeout time.Duration
}

func FromConfig(c config.RetryConfig, attemptTimeout time.Duration) Policy {
	return Policy{
		Attempts:       c.Attempts,
		InitialDelay:   c.InitialDelay,
		MaxDelay:       c.MaxDelay,
		AttemptTimeout: attemptTimeout,
	}
}

// Do runs op until it succeeds, returns a Permanent error, runs out of
// attempts or ctx ends. The last error is returned.
func Do(ctx context.Context, p Policy, fields log.Fields, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, fields, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, fields log.Fields, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		callCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		return op(callCtx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithFields(fields).WithFields(log.Fields{
				"attempt":      attempt,
				"max_attempts": attempts,
				"retry_in":     next.String(),
			}).WithError(err).Warn("Outbound call failed, retrying...")
		}),
	)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
