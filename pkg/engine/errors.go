package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for recovery and
// reporting logic.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates bad input: malformed DSL, an unknown
	// action, or an unresolved placeholder. Fatal, never retried, and the only
	// class that aborts a run instead of becoming a step record.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassActionTimeout indicates a step exceeded its execution budget.
	// Fails that step only, never the whole run.
	ErrorClassActionTimeout ErrorClass = "action_timeout"

	// ErrorClassSelectorExhausted indicates every candidate locator failed
	// within the allotted budget.
	ErrorClassSelectorExhausted ErrorClass = "selector_exhausted"

	// ErrorClassAuthExpired indicates the guard pre-empted a hang on a broken
	// session. One credential reload is attempted before this is raised.
	ErrorClassAuthExpired ErrorClass = "auth_expired"

	// ErrorClassSystem indicates an unexpected failure from the action layer
	// or the backend itself.
	ErrorClassSystem ErrorClass = "system"
)

// EngineError represents a classified error with execution context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for recovery logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Phase is the phase being executed when the error occurred, if any.
	Phase string `json:"phase,omitempty"`

	// Step is the action type of the step that caused the error, if any.
	Step string `json:"step,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Phase != "" && e.Step != "" {
		return fmt.Sprintf("[%s] %s (phase=%s, step=%s): %s",
			e.Class, e.Message, e.Phase, e.Step, e.unwrapMessage())
	}
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s (step=%s): %s",
			e.Class, e.Message, e.Step, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewUnresolvedVariableError creates the configuration error raised when a
// template placeholder has no value in any lookup layer.
func NewUnresolvedVariableError(path string) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: fmt.Sprintf("unresolved variable: ${%s}", path),
		Code:    ErrCodeUnresolvedVariable,
	}
}

// NewActionTimeoutError creates a new action timeout error.
func NewActionTimeoutError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassActionTimeout,
		Message: message,
		Code:    ErrCodeTimeout,
		Err:     err,
	}
}

// NewSelectorExhaustedError creates the timeout error raised when every
// candidate locator failed within the budget. Candidates are recorded in the
// error details for diagnosis.
func NewSelectorExhaustedError(candidates []string, budget string) *EngineError {
	return &EngineError{
		Class:   ErrorClassSelectorExhausted,
		Message: fmt.Sprintf("no candidate matched within %s: %v", budget, candidates),
		Code:    ErrCodeSelectorExhausted,
		Details: map[string]interface{}{"candidates": candidates, "budget": budget},
	}
}

// NewAuthExpiredError creates a new auth expired error.
func NewAuthExpiredError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassAuthExpired,
		Message: message,
		Code:    ErrCodeAuthExpired,
		Err:     err,
	}
}

// NewSystemError creates a new system error.
func NewSystemError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassSystem,
		Message: message,
		Err:     err,
	}
}

// WithPhase adds phase context to an error.
func (e *EngineError) WithPhase(phase string) *EngineError {
	e.Phase = phase
	return e
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(actionType string) *EngineError {
	e.Step = actionType
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfigurationError returns true if the error is classified as configuration.
func IsConfigurationError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsActionTimeout returns true if the error is classified as an action timeout.
func IsActionTimeout(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassActionTimeout
	}
	return false
}

// IsSelectorExhausted returns true if the error is classified as selector exhaustion.
func IsSelectorExhausted(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassSelectorExhausted
	}
	return false
}

// IsAuthExpired returns true if the error is classified as expired auth.
func IsAuthExpired(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassAuthExpired
	}
	return false
}

// IsSystemError returns true if the error is classified as a system error.
func IsSystemError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassSystem
	}
	return false
}

// IsFatal returns true if the error aborts the run instead of being converted
// into a step record. Only configuration errors are fatal.
func IsFatal(err error) bool {
	return IsConfigurationError(err)
}

// Class returns the classification of err, or ErrorClassSystem when err is not
// an EngineError.
func Class(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassSystem
}

// Common error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeUnresolvedVariable = "UNRESOLVED_VARIABLE"
	ErrCodeUnknownAction      = "UNKNOWN_ACTION"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeSelectorExhausted  = "SELECTOR_EXHAUSTED"
	ErrCodeAuthExpired        = "AUTH_EXPIRED"
	ErrCodeBackendFailed      = "BACKEND_FAILED"
	ErrCodeAssertionFailed    = "ASSERTION_FAILED"
	ErrCodeScriptFailed       = "SCRIPT_FAILED"
	ErrCodeStopRequested      = "STOP_REQUESTED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)
