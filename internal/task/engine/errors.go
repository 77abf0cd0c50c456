package engine

import (
	"errors"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
)

// PermanentError marks a failure that a retry cannot fix, such as a
// malformed payload or a chat that blocked the bot.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NoRetry wraps err so the engine gives up after this attempt.
//
//	return engine.NoRetry(fmt.Errorf("send digest: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsNoRetry(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// retryHint returns the wait an error asks for, from any error in the
// chain with a RetryAfter() method (Telegram flood waits, throttled stores).
func retryHint(err error) (time.Duration, bool) {
	var ra interface{ RetryAfter() time.Duration }
	if err == nil || !errors.As(err, &ra) {
		return 0, false
	}
	return max(ra.RetryAfter(), 0), true
}
