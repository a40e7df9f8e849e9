package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dlnIndexer/internal/chain"
)

const defaultRetryBackoff = 100 * time.Millisecond

// retrier repeats RPC calls with exponential backoff. Errors the node will
// never accept are returned after the first attempt.
type retrier struct {
	maxRetries int
	backoff    time.Duration
	permanent  func(error) bool
	logger     *zap.Logger
}

func newRetrier(maxRetries int, backoff time.Duration, logger *zap.Logger) retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return retrier{
		maxRetries: maxRetries,
		backoff:    backoff,
		permanent:  chain.IsPermanent,
		logger:     logger,
	}
}

func (r retrier) do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := r.backoff
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.permanent != nil && r.permanent(err) {
			r.logger.Warn("rpc call rejected", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if attempt > r.maxRetries {
			r.logger.Warn("rpc call failed, giving up", zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
			return err
		}

		r.logger.Warn("rpc call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
