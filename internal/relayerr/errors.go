// Package relayerr defines the error kinds shared across the relay.
//
// Callers classify failures with errors.Is against the sentinels below.
// A routing miss is not an error: Resolve returns an empty slice.
package relayerr

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage marks durable storage failures (config file or reminder store).
	ErrStorage = errors.New("storage error")
	// ErrValidation marks malformed user input or config.
	ErrValidation = errors.New("validation error")
	// ErrTransport marks outbound send failures.
	ErrTransport = errors.New("transport error")
)

type kindError struct {
	kind error
	op   string
	err  error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return e.op + ": " + e.kind.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

func wrap(kind error, op string, err error) error {
	return &kindError{kind: kind, op: op, err: err}
}

// Storage wraps err as a storage failure of op. Returns nil when err is nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return wrap(ErrStorage, op, err)
}

// Transport wraps err as a send failure of op. Returns nil when err is nil.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return wrap(ErrTransport, op, err)
}

// Validation builds a validation error with a formatted reason.
func Validation(format string, args ...any) error {
	return wrap(ErrValidation, "validate", fmt.Errorf(format, args...))
}
