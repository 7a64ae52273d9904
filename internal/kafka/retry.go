package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 4 * time.Second
)

// isAuthError returns true for errors that indicate SASL authentication or
// authorization failures. These are permanent, so retrying will not help.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		switch ke {
		case kerr.SaslAuthenticationFailed,
			kerr.UnsupportedSaslMechanism,
			kerr.IllegalSaslState,
			kerr.TopicAuthorizationFailed,
			kerr.ClusterAuthorizationFailed,
			kerr.GroupAuthorizationFailed,
			kerr.TransactionalIDAuthorizationFailed:
			return true
		}
	}

	var eof *kgo.ErrFirstReadEOF
	return errors.As(err, &eof)
}

// isRetryable returns true for transient broker errors where a retry might
// succeed: timeouts, broker restarts, temporary leader unavailability.
func isRetryable(err error) bool {
	if err == nil || isAuthError(err) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Kafka protocol errors with retriable flag
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Retriable
	}

	// Network-level: connection closed, EOF after established connection
	if errors.Is(err, net.ErrClosed) {
		return true
	}

	// Dial timeouts are retryable; connection-refused is not
	var ne *net.OpError
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	return false
}

// newBackOff returns the client retry schedule: 500ms doubling to 4s with
// 20% jitter.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.MaxInterval = maxBackoff
	b.RandomizationFactor = 0.2
	return b
}

// withRetry executes fn up to maxRetries+1 times with exponential backoff.
// Auth errors fail immediately. Context cancellation stops retries.
func withRetry(ctx context.Context, desc string, fn func() error) error {
	var (
		lastErr  error
		attempts int
	)

	operation := func() (struct{}, error) {
		attempts++
		lastErr = fn()
		if lastErr == nil {
			return struct{}{}, nil
		}
		if !isRetryable(lastErr) {
			return struct{}{}, backoff.Permanent(lastErr)
		}
		return struct{}{}, lastErr
	}

	notify := func(err error, next time.Duration) {
		slog.Warn("retrying after transient error",
			"operation", desc,
			"attempt", attempts,
			"max_attempts", maxRetries+1,
			"backoff", next,
			"error", err,
		)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(maxRetries+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	switch {
	case err == nil:
		return nil
	case lastErr == nil:
		return fmt.Errorf("%s: %w", desc, err)
	case !isRetryable(lastErr):
		return lastErr
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w (last error: %w)", desc, ctx.Err(), lastErr)
	default:
		return fmt.Errorf("%s: %d attempts exhausted: %w", desc, attempts, lastErr)
	}
}
