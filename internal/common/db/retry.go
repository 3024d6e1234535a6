package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig suits the authorization reads on the event path: three
// tries stay well inside the hub request timeout.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Multiplier:   2.0,
}

var retryableStates = map[string]struct{}{
	// connection exceptions
	"08000": {}, "08001": {}, "08003": {}, "08004": {}, "08006": {}, "08007": {}, "08P01": {},
	// serialization failure, deadlock
	"40001": {}, "40P01": {},
	// lock not available
	"55P03": {},
	// admin shutdown, cannot connect now
	"57P01": {}, "57P03": {},
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableStates[pgErr.Code]
		return ok
	}
	return false
}

// RetryWithBackoff reruns a read that failed on a transient SQLSTATE. Writes
// are never retried here; a duplicate insert is worse than a failed event.
func RetryWithBackoff(ctx context.Context, log *logger.Logger, operation string, config RetryConfig, fn func() error) error {
	if config.MaxAttempts <= 0 {
		config = DefaultRetryConfig
	}

	delay := config.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryableError(err) || attempt == config.MaxAttempts {
			break
		}

		metrics.DBQueryRetries.WithLabelValues(operation).Inc()
		log.WithFields(ctx, logger.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay_ms":  delay.Milliseconds(),
			"action":    "db_retry",
		}).Warnf("%s failed, retrying: %v", operation, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: retry aborted: %w", operation, ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return lastErr
}
