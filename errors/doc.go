// Package errors provides standardized error handling for watchpost.
//
// # Classification
//
// Errors carry one of three classes:
//
//   - Transient: timeouts, lost connections, a sample that has not arrived yet
//   - Invalid: malformed input, a pipeline that fails validation
//   - Fatal: configuration that cannot produce a running system
//
// # Taxonomy
//
// On top of the classes every runtime failure wraps one sentinel:
//
//	ErrConfiguration    fatal before any worker starts
//	ErrValidation       fatal to one pipeline only
//	ErrStageFault       logged, cycle abandoned, loop continues
//	ErrQueryEvaluation  decision is false
//	ErrWorkerLiveness   source worker respawned
//
// Use the constructors to keep the wrapping format consistent:
//
//	return errors.Configuration("Engine", "Build", "pipeline %q: %v", name, err)
//	return errors.Validation(errors.ErrDomainMismatch, "Pipeline", "Validate", "stage %q", stage)
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and preserves errors.Is / errors.As through the chain:
//
//	err := errors.WrapTransient(io.EOF, "UDPSource", "Acquire", "read datagram")
//	stderrors.Is(err, io.EOF) // true
//	errors.IsTransient(err)   // true
package errors
