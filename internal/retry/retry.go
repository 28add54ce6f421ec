// Package retry is the single retry policy shared by every component that
// talks to the cloud API.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/config"
)

// Policy bounds how often an operation is attempted within one tick.
type Policy struct {
	Attempts uint
	Delay    time.Duration
}

func Default() Policy {
	return Policy{Attempts: config.RetryMaxAttempts, Delay: config.RetryDelay}
}

// None runs an operation exactly once.
func None() Policy {
	return Policy{Attempts: 1}
}

// Do runs fn until it succeeds, returns a Permanent error, or the policy's
// attempts are used up. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		return fn(ctx)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().
				Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Dur("next", next).
				Msg("retrying")
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
