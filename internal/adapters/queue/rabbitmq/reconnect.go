package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// maxReconnectAttempts and the backoff schedule (1s doubling to a 30s
// cap) match the connection supervisor's documented retry policy.
const (
	maxReconnectAttempts = 10
	initialBackoff       = time.Second
	maxBackoff           = 30 * time.Second
)

// DialWithBackoff retries dial until it succeeds or maxReconnectAttempts
// is exhausted, doubling the wait each time up to maxBackoff.
func DialWithBackoff(ctx context.Context, log *slog.Logger, dial func() error) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		lastErr = dial()
		if lastErr == nil {
			return nil
		}
		log.Warn("broker connect failed", "attempt", attempt, "err", lastErr)
		if attempt == maxReconnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("broker unreachable after %d attempts: %w", maxReconnectAttempts, lastErr)
}
