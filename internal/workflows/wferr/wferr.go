package wferr

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: connectivity problems
// talking to the ticketing service or the legacy uploader.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried. A PermanentError
// anywhere in the chain wins: wrapping a transient error as permanent
// (retries exhausted) makes it final.
func IsTransient(err error) bool {
	var p *PermanentError
	if errors.As(err, &p) {
		return false
	}
	var t *TransientError
	return errors.As(err, &t)
}

// PermanentError marks a failure that retrying cannot fix: rejected
// requests, malformed payloads, an IP the service refuses.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// DataError reports a required upstream field missing from the record or
// execution context. Fails fast; never retried.
type DataError struct {
	Field string
	Msg   string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s is missing: %s", e.Field, e.Msg)
}

func Data(field, msg string) error {
	return &DataError{Field: field, Msg: msg}
}

func IsData(err error) bool {
	var d *DataError
	return errors.As(err, &d)
}
