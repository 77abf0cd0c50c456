// Package rowstore is the tabular row store the reminder engine reads its
// data of record from.
//
// A table is an ordered list of string rows addressed by name. Backends
// return data rows only; a backend that keeps a header row strips it.
// Row indices are 0-based data indices.
package rowstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited marks a throttled call. It is always safe to retry.
	ErrRateLimited = errors.New("row store rate limited")
	// ErrStoreUnavailable is returned once the retry budget is exhausted.
	ErrStoreUnavailable = errors.New("row store unavailable")
	// ErrRowOutOfRange is returned by DeleteRow for a missing index.
	ErrRowOutOfRange = errors.New("row index out of range")
	ErrClosed        = errors.New("row store closed")
)

type Store interface {
	ReadTable(ctx context.Context, name string) ([][]string, error)
	AppendRow(ctx context.Context, name string, row []string) error
	DeleteRow(ctx context.Context, name string, index int) error
	Close() error
}

// RateLimited returns an ErrRateLimited carrying a suggested wait.
func RateLimited(after time.Duration) error {
	if after < 0 {
		after = 0
	}
	return rateLimitedError{after: after}
}

type rateLimitedError struct{ after time.Duration }

func (e rateLimitedError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", ErrRateLimited, e.after)
}
func (e rateLimitedError) Is(target error) bool      { return target == ErrRateLimited }
func (e rateLimitedError) RetryAfter() time.Duration { return e.after }

// Transient marks err as retryable (network hiccup, busy database).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

type transientError struct{ err error }

func (e transientError) Error() string { return "transient: " + e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var te transientError
	return errors.As(err, &te)
}

// retryAfterHint extracts the suggested wait from a rate-limit error.
func retryAfterHint(err error) time.Duration {
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0
}

func cloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
