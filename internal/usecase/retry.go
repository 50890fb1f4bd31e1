package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// RetryPolicy bounds how often a per-entity atomic write is re-attempted
// after losing a version race or hitting a transient storage failure.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     6,
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent, in which case ErrStorageContention wraps the last
// failure. op receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op(attempt)
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx))

	if err != nil && retryable(err) {
		return &TechnicalError{Code: CodeStorageContention, Message: "storage contention", Err: err}
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, entity.ErrVersionConflict) || errors.Is(err, entity.ErrTransient)
}
