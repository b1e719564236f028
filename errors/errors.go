// Package errors provides the error taxonomy and wrapping helpers shared by
// every watchpost package.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Runtime taxonomy. Every error surfaced by the engine wraps exactly one of
// these so callers can branch with errors.Is.
var (
	// ErrConfiguration marks a broken configuration document. Fatal before any
	// worker starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation marks a pipeline that cannot run (missing source, domain
	// mismatch). Fatal to that pipeline only.
	ErrValidation = errors.New("validation error")
	// ErrStageFault marks an error or panic raised inside a stage or a source
	// acquisition. The cycle is abandoned; the loop continues.
	ErrStageFault = errors.New("stage execution fault")
	// ErrQueryEvaluation marks a query that does not parse after placeholder
	// substitution. The decision is false.
	ErrQueryEvaluation = errors.New("query evaluation fault")
	// ErrWorkerLiveness marks a source worker found dead by the supervisor.
	ErrWorkerLiveness = errors.New("worker liveness fault")
)

// Standard error variables for common conditions
var (
	// Lifecycle
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrShuttingDown   = errors.New("shutting down")

	// Configuration
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingConfig   = errors.New("missing required configuration")
	ErrUnknownType     = errors.New("unknown plugin type")
	ErrDuplicateType   = errors.New("plugin type already registered")
	ErrDomainMismatch  = errors.New("stage domain does not match source domain")
	ErrSourceConflict  = errors.New("conflicting source descriptors")
	ErrNoSourceBinding = errors.New("pipeline has no source")
	ErrNoStages        = errors.New("pipeline has no stages")
	ErrUnknownZone     = errors.New("unknown zone")
	ErrUnknownSource   = errors.New("unknown source")

	// Connections
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Data
	ErrInvalidData   = errors.New("invalid data format")
	ErrNoSample      = errors.New("no sample available")
	ErrPayloadType   = errors.New("unexpected payload type")
	ErrParsingFailed = errors.New("parsing failed")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrNoSample) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrUnknownType)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDomainMismatch) ||
		errors.Is(err, ErrNoSourceBinding) ||
		errors.Is(err, ErrNoStages) ||
		errors.Is(err, ErrUnknownSource) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrPayloadType) ||
		errors.Is(err, ErrParsingFailed)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// IsConfiguration reports whether err is part of a configuration failure.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsValidation reports whether err is a pipeline validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsStageFault reports whether err came out of a stage or source call.
func IsStageFault(err error) bool { return errors.Is(err, ErrStageFault) }

// IsQueryEvaluation reports whether err is a malformed-query failure.
func IsQueryEvaluation(err error) bool { return errors.Is(err, ErrQueryEvaluation) }

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Configuration builds a fatal ErrConfiguration carrying detail.
func Configuration(component, method, format string, args ...any) error {
	detail := fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
	return WrapFatal(detail, component, method, "configuration")
}

// Validation builds an invalid ErrValidation carrying cause.
func Validation(cause error, component, method, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var detail error
	if cause != nil {
		detail = fmt.Errorf("%w: %s: %w", ErrValidation, msg, cause)
	} else {
		detail = fmt.Errorf("%w: %s", ErrValidation, msg)
	}
	return WrapInvalid(detail, component, method, "validation")
}

// StageFault marks err as raised inside a stage or source call.
func StageFault(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return WrapTransient(fmt.Errorf("%w: %w", ErrStageFault, err), component, method, action)
}

// Panic converts a recovered panic value into a StageFault.
func Panic(recovered any, component, method string) error {
	if err, ok := recovered.(error); ok {
		return StageFault(fmt.Errorf("panic: %w", err), component, method, "recover")
	}
	return StageFault(fmt.Errorf("panic: %v", recovered), component, method, "recover")
}
