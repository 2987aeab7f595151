package database

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBaseWait = 1 * time.Second
	retryJitterFraction  = 0.25
)

// connPatterns are substrings of errors caused by an unreachable server
// rather than by the request itself.
var connPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"connect: connection",
	"dial tcp",
	"EOF",
	"connection timed out",
	"server closed the connection unexpectedly",
	"could not connect",
}

// isConnectionError reports whether err looks like a transient connection problem.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range connPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func anyError(err error) bool { return err != nil }

// retryBackoff returns the wait before retry attempt n (0-indexed):
// 1s, 2s, 4s, each with ±25% jitter.
func retryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := defaultRetryBaseWait << attempt
	jitter := time.Duration(float64(base) * retryJitterFraction * (2*rand.Float64() - 1)) // #nosec G404 -- retry jitter
	return base + jitter
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retrier runs an operation up to attempts times while retryable says the
// last error is worth another try.
type retrier struct {
	what      string
	attempts  int
	wait      func(attempt int) time.Duration
	retryable func(error) bool
	logger    *slog.Logger
}

func newRetrier(what string, retryable func(error) bool, logger *slog.Logger) retrier {
	return retrier{
		what:      what,
		attempts:  defaultRetryAttempts,
		wait:      retryBackoff,
		retryable: retryable,
		logger:    logger,
	}
}

// do returns the last error unwrapped, so callers keep their own messages.
func (r retrier) do(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	for attempt := 1; attempt < r.attempts && r.retryable(err); attempt++ {
		wait := r.wait(attempt - 1)
		if r.logger != nil {
			r.logger.Warn(r.what+" failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", r.attempts),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}
		if serr := sleepCtx(ctx, wait); serr != nil {
			return fmt.Errorf("%s: context canceled during retry: %w", r.what, serr)
		}
		err = op(ctx)
	}
	return err
}
