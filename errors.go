package feindexer

import (
	"strings"

	"github.com/pkg/errors"
)

// Error is a constant error type so that sentinel errors can be declared as
// constants and compared after errors.Cause.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrMissingField is returned by the assembler when a required field has
	// no value and no documented default.
	ErrMissingField = Error("required field missing")

	// ErrInvalidDocument is returned when an assembled document does not
	// match the destination schema.
	ErrInvalidDocument = Error("document does not match schema")

	// ErrCursorOrder is returned when a primary query yields keys out of
	// order or outside of the chunk being read.
	ErrCursorOrder = Error("primary rows out of key order")

	// ErrFlushFailed is returned when a batch could not be written after
	// exhausting its retries.
	ErrFlushFailed = Error("flush failed")

	// ErrUnknownIndexer is returned when a name is not in the registry.
	ErrUnknownIndexer = Error("unknown indexer")

	// ErrUnknownLookup is returned when a rule or lookup refers to a lookup
	// which was never built.
	ErrUnknownLookup = Error("unknown lookup")

	// ErrLookupCycle is returned when lookup dependencies form a cycle.
	ErrLookupCycle = Error("lookup dependency cycle")

	// ErrNoClosure is returned when a closure step runs against a data
	// source which can't materialize closures.
	ErrNoClosure = Error("data source can't materialize closures")
)

// connectivityError marks an error as a transport failure talking to the
// data source or the document store.
type connectivityError struct {
	err error
}

func (c connectivityError) Error() string { return c.err.Error() }
func (c connectivityError) Cause() error  { return c.err }
func (c connectivityError) Unwrap() error { return c.err }

// Connectivity marks err as a connectivity error. It returns nil if err is
// nil.
func Connectivity(err error) error {
	if err == nil {
		return nil
	}
	return connectivityError{err: err}
}

// IsConnectivity reports whether err, or any error it wraps, was marked with
// Connectivity.
func IsConnectivity(err error) bool {
	var ce connectivityError
	return errors.As(err, &ce)
}

// FailedError is returned by the Dispatcher when one or more indexers failed.
type FailedError struct {
	Names []string
}

func (f *FailedError) Error() string {
	return "indexers failed: " + strings.Join(f.Names, ", ")
}

type errorList []error

func (errs errorList) Error() string {
	errstrings := make([]string, len(errs))
	for i, err := range errs {
		errstrings[i] = err.Error()
	}
	return strings.Join(errstrings, "; ")
}
