package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/urban-mobility/escrow-backend/internal/models"
)

// StatusSink receives live progress before each attempt so the UI can show
// "attempt N/M" while a write is in flight.
type StatusSink func(attempt, maxAttempts int)

// Backoff grows ~1.3x per attempt and never exceeds the cap.
const (
	backoffNum = 13
	backoffDen = 10
	maxDelay   = 5 * time.Second
)

// Executor wraps on-chain writes in a bounded retry loop. Only failures
// classified retryable are re-attempted; business-rule rejections abort
// immediately without consuming the remaining attempts. Operations are
// resubmitted whole, so they must be naturally idempotent or keyed — the
// chain layer marks anything past tx submission non-retryable.
type Executor struct {
	maxAttempts  int
	initialDelay time.Duration
	log          *zap.Logger
}

func NewExecutor(maxAttempts int, initialDelay time.Duration, log *zap.Logger) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{maxAttempts: maxAttempts, initialDelay: initialDelay, log: log}
}

// Do invokes op up to the configured attempt cap. After exhausting the
// attempts the last error is returned unchanged for the caller to classify
// again for display.
func (e *Executor) Do(ctx context.Context, name string, sink StatusSink, op func(context.Context) error) error {
	delay := e.initialDelay
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if sink != nil {
			sink(attempt, e.maxAttempts)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !models.IsRetryable(lastErr) {
			e.log.Debug("fatal failure, not retrying",
				zap.String("op", name),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			return lastErr
		}
		if attempt == e.maxAttempts {
			break
		}

		e.log.Warn("transient failure, backing off",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}

		delay = delay * backoffNum / backoffDen
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	e.log.Error("attempts exhausted", zap.String("op", name), zap.Int("attempts", e.maxAttempts), zap.Error(lastErr))
	return lastErr
}
