package retry

import (
	"context"
	"errors"
	"math"
	"time"

	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"go.uber.org/zap"
)

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds retry configuration
type Config struct {
	// MaxRetries is the maximum number of retry attempts (total attempts = MaxRetries + 1)
	MaxRetries int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// RetryableErrors decides whether an error should be retried
	RetryableErrors func(error) bool
	// Sleep waits between attempts; defaults to a context-aware timer
	Sleep SleepFunc
}

// AirtableConfig returns the retry policy for Airtable calls: only 429
// responses are retried, and the delay before retry n (0-indexed) is exactly
// baseDelay * 2^n.
func AirtableConfig(maxRetries int, baseDelay time.Duration) Config {
	return Config{
		MaxRetries:      maxRetries,
		InitialDelay:    baseDelay,
		Multiplier:      2.0,
		RetryableErrors: IsRateLimited,
	}
}

// IsRateLimited reports whether err is a classified 429
func IsRateLimited(err error) bool {
	return errors.Is(err, apperrors.ErrRateLimited)
}

// DoWithResult executes the function with retry logic and returns a result.
// Only the last error is returned; earlier attempts' errors are discarded.
func DoWithResult[T any](ctx context.Context, config Config, operation string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		res, err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempt", attempt))
			}
			return res, nil
		}

		lastErr = err

		if !retryable(err) {
			logger.Debug("Non-retryable error encountered",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return result, err
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxRetries {
			break
		}

		delay := CalculateDelay(attempt, config)

		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", config.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return result, sleepErr
		}
	}

	logger.Error("Operation failed after all retries",
		zap.String("operation", operation),
		zap.Int("max_retries", config.MaxRetries),
		zap.Error(lastErr))

	return result, apperrors.RateLimitExhaustedError(config.MaxRetries, lastErr)
}

// CalculateDelay returns the delay before retrying after the given 0-indexed attempt
func CalculateDelay(attempt int, config Config) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	return time.Duration(float64(config.InitialDelay) * math.Pow(multiplier, float64(attempt)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
