// Package retry runs infrastructure calls with exponential backoff, retrying only
// transient failures.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/logging"
)

// Policy bounds the number of attempts and the wait between them.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Expected marks errors the caller handles as an ordinary outcome, such as
	// a missing key. They are logged at debug level.
	Expected func(error) bool
}

// DefaultPolicy is used by the preview store and the audit log.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// Do calls fn until it succeeds, fails permanently or the policy is exhausted.
// Failures come back as *logging.OperationError.
func Do(ctx context.Context, p Policy, logger *zap.Logger, operation, sessionID string, fn func() error) error {
	if p.Attempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opLogger := logging.WithOperation(logger, operation, sessionID)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("backoff", wait))
	})
	if err != nil {
		opErr := &logging.OperationError{Operation: operation, SessionID: sessionID, Attempts: attempt, Err: err}
		if p.Expected != nil && p.Expected(err) {
			opLogger.Debug("operation returned expected error", zap.Int("attempts", attempt), zap.Error(err))
		} else {
			opLogger.Error("operation failed", zap.Int("attempts", attempt), zap.Error(err))
		}
		return opErr
	}
	return nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
