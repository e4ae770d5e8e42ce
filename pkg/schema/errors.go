package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeParse       = "PARSE_ERROR"
	ErrCodeExtraction  = "EXTRACTION_ERROR"
	ErrCodeEmbedding   = "EMBEDDING_ERROR"
	ErrCodeRasterize   = "RASTERIZE_ERROR"
	ErrCodeUnsupported = "UNSUPPORTED_DIAGRAM"
	ErrCodeTransition  = "INVALID_TRANSITION"
	ErrCodeExpression  = "EXPRESSION_ERROR"
	ErrCodeCircuitOpen = "CIRCUIT_OPEN"
	ErrCodeCancelled   = "CANCELLED"
	ErrCodeInternal    = "INTERNAL_ERROR"
)

// ConvertError is the structured error type for all conversion operations.
type ConvertError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Stage    Stage          `json:"stage,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Cause    error          `json:"-"`
}

func (e *ConvertError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] stage %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ConvertError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ConvertError.
func NewError(code, message string) *ConvertError {
	return &ConvertError{Code: code, Message: message}
}

// NewErrorf creates a new ConvertError with a formatted message.
func NewErrorf(code, format string, args ...any) *ConvertError {
	return &ConvertError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches the pipeline stage that produced the error.
func (e *ConvertError) WithStage(stage Stage) *ConvertError {
	e.Stage = stage
	return e
}

// WithCause attaches an underlying cause.
func (e *ConvertError) WithCause(err error) *ConvertError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ConvertError) WithDetails(details map[string]any) *ConvertError {
	e.Details = details
	return e
}

// IsCode reports whether err is a ConvertError carrying the given code.
func IsCode(err error, code string) bool {
	var ce *ConvertError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
