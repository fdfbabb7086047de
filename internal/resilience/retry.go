// Package resilience provides fault tolerance patterns
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/murmur-app/murmur/internal/apperr"
)

// Retry configuration constants
const (
	// Stream start: the platform tap API fails transiently right after
	// a process appears. Fixed 500ms spacing, 3 attempts total.
	StreamStartAttempts = 3
	StreamStartDelay    = 500 * time.Millisecond

	// Device assignment: fails transiently immediately after device
	// changes. Ramped 100/200/300ms spacing, 3 attempts total.
	DeviceAssignAttempts = 3
	DeviceAssignStep     = 100 * time.Millisecond
)

// RetryConfig holds bounded retry settings. Every loop has a fixed
// attempt ceiling; nothing retries indefinitely.
type RetryConfig struct {
	Attempts    int           // total attempts, including the first
	Delay       time.Duration // base delay between attempts
	Ramp        bool          // multiply delay by the attempt number
	IsRetryable func(error) bool
}

// StreamStartConfig returns the fixed-delay settings for tap stream starts.
func StreamStartConfig() RetryConfig {
	return RetryConfig{
		Attempts:    StreamStartAttempts,
		Delay:       StreamStartDelay,
		IsRetryable: apperr.IsRetryable,
	}
}

// DeviceAssignConfig returns the ramped settings for input device assignment.
func DeviceAssignConfig() RetryConfig {
	return RetryConfig{
		Attempts:    DeviceAssignAttempts,
		Delay:       DeviceAssignStep,
		Ramp:        true,
		IsRetryable: apperr.IsRetryable,
	}
}

// Retry executes fn up to cfg.Attempts times. Returns the last error if
// all attempts fail, or the first non-retryable error immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if !cfg.IsRetryable(lastErr) || attempt == cfg.Attempts {
			return lastErr
		}

		delay := cfg.Delay
		if cfg.Ramp {
			delay = time.Duration(attempt) * cfg.Delay
		}
		slog.Debug("retrying after error", "attempt", attempt, "max", cfg.Attempts, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = StreamStartAttempts
	}
	if c.Delay <= 0 {
		c.Delay = StreamStartDelay
	}
	if c.IsRetryable == nil {
		c.IsRetryable = apperr.IsRetryable
	}
	return c
}
