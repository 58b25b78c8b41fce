// Package errors provides the error taxonomy for flexpool connection
// acquisition.
//
// Acquisition failures fall into three kinds:
//   - ErrAcquireTimeout: a single strategy could not obtain a connection within
//     its window. The strategy chain absorbs it and moves on.
//   - ErrCantAcquireConnection: every strategy gave up, or a throttling strategy
//     rejected the request. Surfaced to the caller as pool exhaustion.
//   - ErrFatalAcquisition: the underlying pool reported a condition that no
//     other strategy can recover from.
//
// Failures leaving the strategy chain are reported as *AcquireError, which
// matches both its kind and its underlying cause with errors.Is.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes used to categorize failures, for example to derive a process
// exit status.
const (
	CodeInternal      = 1
	CodeTimeout       = 2
	CodeExhausted     = 3
	CodeFatal         = 4
	CodeClosed        = 5
	CodeConfiguration = 6
	CodeCanceled      = 7
)

// Sentinel errors. Use errors.Is() to check for these conditions.
var (
	// ErrAcquireTimeout indicates a strategy could not obtain a connection
	// within its configured timeout. Recoverable at the chain level.
	ErrAcquireTimeout = errors.New("acquire timeout")

	// ErrCantAcquireConnection indicates every recovery option was exhausted.
	ErrCantAcquireConnection = errors.New("can't acquire connection")

	// ErrFatalAcquisition indicates the target pool failed permanently.
	ErrFatalAcquisition = errors.New("fatal acquisition error")

	// ErrClosed indicates the data source or pool has been closed.
	ErrClosed = errors.New("closed")

	// ErrConfiguration indicates an invalid configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedCredentials indicates the target pool cannot serve a
	// connection for the requested credentials.
	ErrUnsupportedCredentials = errors.New("unsupported credentials")

	// ErrCircuitOpen indicates the circuit breaker guarding a pool is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrBrokenConnection marks a failure of the leased connection itself.
	// Connections reported this way are discarded instead of reused.
	ErrBrokenConnection = errors.New("broken connection")
)

// AcquireError describes a failed acquisition leaving the strategy chain.
type AcquireError struct {
	// Kind is one of ErrAcquireTimeout, ErrCantAcquireConnection or
	// ErrFatalAcquisition. Context errors are reported with Kind == Err.
	Kind error
	// Strategy names the strategy that produced the failure. Empty when the
	// whole chain was exhausted.
	Strategy string
	// Elapsed is the time spent in the acquisition call.
	Elapsed time.Duration
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *AcquireError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Strategy != "" {
		fmt.Fprintf(&b, " (strategy %s, after %s)", e.Strategy, e.Elapsed.Round(time.Microsecond))
	} else {
		fmt.Fprintf(&b, " (after %s)", e.Elapsed.Round(time.Microsecond))
	}
	if e.Err != nil && e.Err != e.Kind {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *AcquireError) Unwrap() []error {
	if e.Err == nil || e.Err == e.Kind {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Timeout wraps cause as an ErrAcquireTimeout. Pools and adapters use it to
// report that a bounded wait expired.
func Timeout(cause error) error {
	if cause == nil {
		return ErrAcquireTimeout
	}
	if errors.Is(cause, ErrAcquireTimeout) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrAcquireTimeout, cause)
}

// Fatal wraps cause as an ErrFatalAcquisition unless it already is one.
func Fatal(cause error) error {
	if cause == nil {
		return ErrFatalAcquisition
	}
	if errors.Is(cause, ErrFatalAcquisition) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrFatalAcquisition, cause)
}

// Classify returns the kind a strategy failure belongs to. Timeouts stay
// recoverable, rejections and caller cancellation keep their identity, and
// everything else is fatal. A rejection carrying a timeout as its cause is a
// rejection.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCantAcquireConnection):
		return ErrCantAcquireConnection
	case errors.Is(err, ErrFatalAcquisition):
		return ErrFatalAcquisition
	case errors.Is(err, ErrAcquireTimeout):
		return ErrAcquireTimeout
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	default:
		return ErrFatalAcquisition
	}
}

// IsRecoverable reports whether the chain should move on to the next
// strategy after err.
func IsRecoverable(err error) bool {
	return err != nil && Classify(err) == ErrAcquireTimeout
}

// Error is a structured error with a code and safe message.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromError creates a structured error, deriving the code from the error
// kind.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return &Error{
		Code:    Code(err),
		Message: err.Error(),
		Err:     err,
	}
}

// Code maps an error to its category code.
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrCantAcquireConnection):
		return CodeExhausted
	case errors.Is(err, ErrFatalAcquisition):
		return CodeFatal
	case errors.Is(err, ErrAcquireTimeout):
		return CodeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}

// IsTimeout returns true if the error is a strategy-level acquire timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrAcquireTimeout)
}

// IsExhausted returns true if the error reports definitive pool exhaustion.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrCantAcquireConnection)
}

// IsFatal returns true if the error reports a non-recoverable pool failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalAcquisition)
}

// IsClosed returns true if the error indicates a closed resource.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
