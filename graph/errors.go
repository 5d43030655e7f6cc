// Package graph provides the core multi-agent orchestration engine:
// a directed graph of Nodes connected by Edges, executed by a GraphRunner
// with exactly-once step semantics, at-least-once event delivery, and
// checkpoint-backed human-in-the-loop suspend/resume.
package graph

import "errors"

// ErrorCode is one of the wire-visible error classes from spec.md §6.
type ErrorCode string

// The seven error codes a GraphRunner can surface.
const (
	CodeValidationError     ErrorCode = "VALIDATION_ERROR"
	CodeExecutionError      ErrorCode = "EXECUTION_ERROR"
	CodeToolError           ErrorCode = "TOOL_ERROR"
	CodeNetworkError        ErrorCode = "NETWORK_ERROR"
	CodeTimeoutError        ErrorCode = "TIMEOUT_ERROR"
	CodeRateLimitError      ErrorCode = "RATE_LIMIT_ERROR"
	CodeAuthenticationError ErrorCode = "AUTHENTICATION_ERROR"
	CodeUnknownError        ErrorCode = "UNKNOWN_ERROR"
)

// retryableCodes are the classes spec.md marks safe for automatic retry.
var retryableCodes = map[ErrorCode]bool{
	CodeNetworkError:   true,
	CodeTimeoutError:   true,
	CodeRateLimitError: true,
}

// IsRetryable reports whether errors of this class may be retried without
// operator intervention.
func (c ErrorCode) IsRetryable() bool {
	return retryableCodes[c]
}

// GraphError is the error type returned by every exported operation in this
// package. It carries a wire-visible Code, a human Message, an optional
// wrapped Cause, and free-form Context for diagnostics.
type GraphError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *GraphError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes Cause to errors.Is / errors.As.
func (e *GraphError) Unwrap() error { return e.Cause }

// Retryable reports whether e's Code is in the retryable set.
func (e *GraphError) Retryable() bool { return e.Code.IsRetryable() }

// NewGraphError builds a GraphError with the given code and message.
func NewGraphError(code ErrorCode, message string, cause error) *GraphError {
	return &GraphError{Code: code, Message: message, Cause: cause}
}

// Sentinel errors for conditions the runner checks by identity rather than
// by code, mirroring the teacher's checkpoint.go sentinels.

// ErrGraphNotValid is returned by Execute/Resume when Graph.Validate has not
// been run successfully, or the graph fails validation at run time.
var ErrGraphNotValid = errors.New("graph failed validation")

// ErrMaxStepsExceeded indicates a run exceeded its configured step budget
// without reaching a terminal state.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrNoRoute indicates the edge resolver found no matching edge (including
// no matching fallback) out of the current node.
var ErrNoRoute = errors.New("no matching edge out of current node")

// ErrNotWaiting is returned by Resume when the supplied Message is not in
// the WAITING state.
var ErrNotWaiting = errors.New("message is not in WAITING state")

// ErrTerminalInput is returned by Execute when the supplied Message is
// already in a terminal state (COMPLETED or FAILED).
var ErrTerminalInput = errors.New("message is already in a terminal state")

// ErrIdempotencyViolation indicates a step was replayed with a matching key
// but a different intent signature, signalling non-deterministic node logic.
var ErrIdempotencyViolation = errors.New("idempotency key matched but intent signature differs")

// ErrDLQFull indicates the dead-letter queue dropped the oldest entry in a
// channel or globally to admit a new one (not itself a failure to publish).
var ErrDLQFull = errors.New("dead-letter queue evicted oldest entry to admit new entry")

// ErrNoMergePolicy indicates a ParallelNode completed branches with no
// MergePolicy configured for a colliding key.
var ErrNoMergePolicy = errors.New("no merge policy configured for colliding key")

// ErrDeadLetterNotFound is returned by DeadLetterQueue operations that
// reference an ID no longer present (already deleted, or evicted).
var ErrDeadLetterNotFound = errors.New("dead letter message not found")
