// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

type Policy struct {
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// Retriable decides whether err is worth another try. Defaults to IsTransient.
	Retriable func(err error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 5 * time.Second
	}
	if p.Retriable == nil {
		p.Retriable = IsTransient
	}
	return p
}

// IsTransient reports infrastructure errors that may go away on their own.
func IsTransient(err error) bool {
	return errors.Is(err, models.ErrStorageUnavailable)
}

// Always retries every error except context cancellation.
func Always(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn until it succeeds, returns a non-retriable error, the retry budget
// is exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	wait := p.RetryBackoff

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !p.Retriable(err) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		wait *= 2
		if wait > p.MaxBackoff {
			wait = p.MaxBackoff
		}
	}
}
