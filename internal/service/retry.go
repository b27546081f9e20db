package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/config"
)

// Retrier retries transient failures of external calls with exponential
// backoff inside a single message handling attempt.
type Retrier struct {
	attempts  int
	initial   time.Duration
	max       time.Duration
	transient func(error) bool
	logger    *zap.Logger
}

// NewRetrier builds a retrier that treats client.IsTransient errors as
// retryable.
func NewRetrier(cfg config.RetryConfig, logger *zap.Logger) *Retrier {
	return &Retrier{
		attempts:  cfg.Attempts,
		initial:   cfg.InitialInterval,
		max:       cfg.MaxInterval,
		transient: client.IsTransient,
		logger:    logger,
	}
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempt budget is spent. The last error is returned.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = r.max
	b.MaxElapsedTime = 0

	retries := 0
	if r.attempts > 1 {
		retries = r.attempts - 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !r.transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		r.logger.Warn("Transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})
}
