// Package dbretry retries database calls that fail for transient reasons.
package dbretry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	maxElapsedTime  = 30 * time.Second
	initialInterval = 500 * time.Millisecond
	maxInterval     = 5 * time.Second
	maxRetries      = 5
)

// retryableCodes are the SQLSTATE codes worth another attempt: connection
// loss, serialization conflicts, resource exhaustion and server restarts.
var retryableCodes = map[string]struct{}{
	"08000": {}, "08001": {}, "08003": {}, "08004": {}, "08006": {}, "08007": {}, "08P01": {},
	"40001": {}, "40P01": {},
	"53000": {}, "53100": {}, "53200": {}, "53300": {}, "53400": {},
	"55006": {}, "55P03": {},
	"57000": {}, "57P01": {}, "57P02": {}, "57P03": {}, "57P04": {},
}

// networkFailures are substrings of driver errors raised when the socket dies mid-query.
var networkFailures = []string{
	"connection reset by peer",
	"broken pipe",
	"connection refused",
	"no connection",
	"i/o timeout",
	"EOF",
}

// IsRetryableError reports whether err is a transient failure. Domain errors
// from apperr are never retried.
func IsRetryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrBadRequest):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		_, ok := retryableCodes[pgErr.Field('C')]
		return ok
	}

	msg := err.Error()
	for _, failure := range networkFailures {
		if strings.Contains(msg, failure) {
			return true
		}
	}

	return false
}

// Operation runs operation until it succeeds, fails permanently or the retry
// budget runs out. Exhausting the budget yields an apperr.ErrUnavailable.
func Operation[T any](ctx context.Context, operation func(context.Context) (T, error)) (T, error) {
	var (
		result    T
		transient error
	)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(maxElapsedTime),
		backoff.WithInitialInterval(initialInterval),
		backoff.WithMaxInterval(maxInterval),
	), maxRetries), ctx)

	err := backoff.Retry(func() error {
		var err error

		result, err = operation(ctx)
		switch {
		case err == nil:
			return nil
		case !IsRetryableError(err):
			return backoff.Permanent(err)
		default:
			transient = err
			return err
		}
	}, policy)

	switch {
	case err == nil:
		return result, nil
	case transient != nil:
		return result, apperr.Unavailable(fmt.Errorf("database operation failed after retries: %w", transient))
	default:
		return result, err
	}
}

// NoResult is Operation for calls that only return an error.
func NoResult(ctx context.Context, operation func(context.Context) error) error {
	_, err := Operation(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})

	return err
}

// Transaction runs fn in a transaction, retrying the whole transaction on transient failures.
func Transaction(ctx context.Context, db *bun.DB, fn func(context.Context, bun.Tx) error) error {
	return NoResult(ctx, func(ctx context.Context) error {
		return db.RunInTx(ctx, nil, fn)
	})
}
