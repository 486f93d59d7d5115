// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Rumbo.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Rumbo errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeGraphValidation indicates a journey graph failed build-time validation.
	CodeGraphValidation ErrorCode = "GRAPH_VALIDATION"

	// CodeEvaluationParse indicates a condition verdict could not be parsed
	// from the backend response.
	CodeEvaluationParse ErrorCode = "EVALUATION_PARSE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeInvalidToolArguments indicates tool arguments failed schema validation.
	CodeInvalidToolArguments ErrorCode = "INVALID_TOOL_ARGUMENTS"

	// CodeToolFailure indicates a tool handler execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeUnhandledTurn indicates no transition matched and no fallback exists.
	CodeUnhandledTurn ErrorCode = "UNHANDLED_TURN"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeContextLost indicates the enclosing context was cancelled mid-operation.
	CodeContextLost ErrorCode = "CONTEXT_LOST"
)

// RumboError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type RumboError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *RumboError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *RumboError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *RumboError) MarshalJSON() ([]byte, error) {
	type Alias RumboError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new RumboError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *RumboError {
	return &RumboError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *RumboError) WithContext(key string, value interface{}) *RumboError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *RumboError) WithAttribute(key, value string) *RumboError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *RumboError) WithRecoverable(recoverable bool) *RumboError {
	e.Recoverable = recoverable
	return e
}

// AsRumboError attempts to convert an error to a RumboError.
// Returns the error as RumboError if it is one, or wraps it otherwise.
func AsRumboError(err error) *RumboError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RumboError); ok {
		return re
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the error code if err is a RumboError, CodeInternal otherwise.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if re, ok := err.(*RumboError); ok {
		return re.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if re, ok := err.(*RumboError); ok && re.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *RumboError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
