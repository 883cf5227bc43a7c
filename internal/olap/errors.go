package olap

import "fmt"

// ValidationError indicates a malformed or unsupported query; no backend
// call is ever made for it.
type ValidationError struct{ Message string }

func (e *ValidationError) Error() string { return e.Message }

// UnknownFieldError is raised when the query DTO references an identifier
// absent from the schema catalog.
type UnknownFieldError struct{ Message string }

func (e *UnknownFieldError) Error() string { return e.Message }

// TypeMismatchError is raised when an operation is applied to a field of
// the wrong type (e.g. SUM over a string column).
type TypeMismatchError struct{ Message string }

func (e *TypeMismatchError) Error() string { return e.Message }

// UnresolvedMeasureError is raised when a measure references another
// measure alias that does not exist in the query.
type UnresolvedMeasureError struct{ Message string }

func (e *UnresolvedMeasureError) Error() string { return e.Message }

// CancelledError surfaces a cancelled query; no cache writes occur for the
// scope that was in flight.
type CancelledError struct{ Message string }

func (e *CancelledError) Error() string { return e.Message }

// TimeoutError surfaces a per-query deadline exceeded while talking to the
// backend.
type TimeoutError struct{ Message string }

func (e *TimeoutError) Error() string { return e.Message }

// ErrValidation builds a *ValidationError.
func ErrValidation(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrUnknownField builds an *UnknownFieldError.
func ErrUnknownField(format string, args ...interface{}) error {
	return &UnknownFieldError{Message: fmt.Sprintf(format, args...)}
}

// ErrTypeMismatch builds a *TypeMismatchError.
func ErrTypeMismatch(format string, args ...interface{}) error {
	return &TypeMismatchError{Message: fmt.Sprintf(format, args...)}
}

// ErrUnresolvedMeasure builds an *UnresolvedMeasureError.
func ErrUnresolvedMeasure(format string, args ...interface{}) error {
	return &UnresolvedMeasureError{Message: fmt.Sprintf(format, args...)}
}

// ErrCancelled builds a *CancelledError.
func ErrCancelled(format string, args ...interface{}) error {
	return &CancelledError{Message: fmt.Sprintf(format, args...)}
}

// ErrTimeout builds a *TimeoutError.
func ErrTimeout(format string, args ...interface{}) error {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}

// errCacheInconsistent describes a cached column whose length does not match
// the result skeleton's row count. No code path returns it:
// ContributeToResult detects that case itself, evicts the entry and reports
// the measure as missed.
var errCacheInconsistent = fmt.Errorf("olap: cache entry inconsistent with result skeleton")
