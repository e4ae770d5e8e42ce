package schema

import "fmt"

// ValidationResult aggregates errors, warnings, and complexity metrics for one request.
type ValidationResult struct {
	IsValid  bool               `json:"is_valid"`
	Errors   []string           `json:"errors"`
	Warnings []string           `json:"warnings"`
	Metadata map[string]float64 `json:"metadata,omitempty"`
}

// NewValidationResult returns an empty, valid result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
		Metadata: map[string]float64{},
	}
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error and marks the result invalid.
func (r *ValidationResult) AddError(message string) {
	r.Errors = append(r.Errors, message)
	r.IsValid = false
}

// AddErrorf appends a formatted error.
func (r *ValidationResult) AddErrorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}

// AddWarning appends an advisory warning.
func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// SetMetric records a numeric complexity metric.
func (r *ValidationResult) SetMetric(key string, value float64) {
	if r.Metadata == nil {
		r.Metadata = map[string]float64{}
	}
	r.Metadata[key] = value
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	for k, v := range other.Metadata {
		r.SetMetric(k, v)
	}
	r.IsValid = r.Valid()
}

// ToError converts the result to a ConvertError if invalid, nil if valid.
// The error carries the complete error and warning lists.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0]
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	e := NewError(ErrCodeValidation, msg).
		WithStage(StageValidated).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
		})
	e.Errors = append([]string(nil), r.Errors...)
	e.Warnings = append([]string(nil), r.Warnings...)
	return e
}
