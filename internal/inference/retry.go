package inference

import (
	"errors"
	"time"
)

// RetryPolicy decides whether a failed checkup run is rescheduled and with
// what delay. Delays grow exponentially from BaseDelay, doubling per attempt
// and capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff before the given attempt (1-based) is retried.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ShouldRetry reports whether a run that failed on the given attempt with
// the given error may run again.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if IsPermanent(err) {
		return false
	}
	return attempt < p.MaxAttempts
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retriable: the same call with the same inputs
// will fail again, so the run should fail terminally instead of backing off.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
