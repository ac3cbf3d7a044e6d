package forum

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds transparent retries of conflicting transactions.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:        3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// runTx runs fn in a store transaction, retrying only CodeTxConflict
// failures. Every attempt starts from a fresh transaction.
func runTx(ctx context.Context, store Store, policy RetryPolicy, log zerolog.Logger, op string, fn func(tx Tx) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := store.InTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if ErrorCode(err) == CodeTxConflict {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Str("op", op).Dur("retry_in", next).Msg("transaction conflict, retrying")
		}),
	)
	return err
}
