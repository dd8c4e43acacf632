// Package corerr defines the error taxonomy shared by every core component.
package corerr

import "fmt"

// ErrorKind is a machine-readable error classification surfaced to callers.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "NotFound"
	KindInvalidArgument      ErrorKind = "InvalidArgument"
	KindLimitExceeded        ErrorKind = "LimitExceeded"
	KindBadState             ErrorKind = "BadState"
	KindRiskRejected         ErrorKind = "RiskRejected"
	KindTimeout              ErrorKind = "Timeout"
	KindUnavailable          ErrorKind = "Unavailable"
	KindInternal             ErrorKind = "Internal"
	KindEmergency            ErrorKind = "Emergency"
	KindAuthenticationFailed ErrorKind = "AuthenticationFailed"
	KindInvariantViolation   ErrorKind = "InvariantViolation"
)

// RiskViolation describes one reason a risk gate denied a request.
type RiskViolation struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// CoreError is the single error type returned across component boundaries.
type CoreError struct {
	Kind       ErrorKind
	Message    string
	Violations []RiskViolation
	Err        error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is supports errors.Is comparisons against kind-only sentinels.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a CoreError with no violations or wrapped cause.
func New(kind ErrorKind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Newf constructs a CoreError with a formatted message.
func Newf(kind ErrorKind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a CoreError that carries an underlying cause.
func Wrap(kind ErrorKind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// RiskRejected constructs a RiskRejected error carrying the violations that
// caused the denial.
func RiskRejected(violations ...RiskViolation) *CoreError {
	return &CoreError{
		Kind:       KindRiskRejected,
		Message:    "rejected by risk engine",
		Violations: violations,
	}
}

// sentinels for errors.Is comparisons, e.g. errors.Is(err, corerr.ErrNotFound)
var (
	ErrNotFound      = New(KindNotFound, "not found")
	ErrBadState      = New(KindBadState, "invalid state transition")
	ErrLimitExceeded = New(KindLimitExceeded, "limit exceeded")
)
