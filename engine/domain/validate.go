package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxQuestionLength is the longest accepted question, in runes.
const MaxQuestionLength = 2000

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Reason  string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Wrapped.Error() + ": " + e.Field + " " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError wrapping ErrInvalidInput.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Wrapped: ErrInvalidInput}
}

// ValidateQuestion trims the question and checks it is non-empty and within
// MaxQuestionLength. It returns the trimmed question.
func ValidateQuestion(question string) (string, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", NewValidationError("question", "is required")
	}
	if utf8.RuneCountInString(q) > MaxQuestionLength {
		return "", NewValidationError("question", "is too long (max 2000 characters)")
	}
	return q, nil
}
