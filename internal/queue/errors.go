package queue

import (
	"errors"
	"fmt"
	"time"
)

// DeferError asks the queue to put the job back until Until without
// consuming an attempt. Handlers return it via Defer.
type DeferError struct {
	Until  time.Time
	Reason error
}

func (e *DeferError) Error() string {
	return fmt.Sprintf("deferred until %s: %v", e.Until.UTC().Format(time.RFC3339), e.Reason)
}

func (e *DeferError) Unwrap() error { return e.Reason }

// Defer returns a DeferError for until.
func Defer(until time.Time, reason error) error {
	return &DeferError{Until: until, Reason: reason}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job fails on this attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
