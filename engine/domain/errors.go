package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the answer pipeline.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrRetrievalEmpty       = errors.New("no chunks available for scope")
	ErrProviderTimeout      = errors.New("provider timeout")
	ErrProviderFailure      = errors.New("provider failure")
	ErrCacheWrite           = errors.New("cache write failed")
	ErrSummarization        = errors.New("summarization failed")
	ErrConversationNotFound = errors.New("conversation not found")
)

// StageError wraps a failure with the pipeline stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError creates a StageError.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage name recorded in err, or "" if none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// ProviderError classifies an embedding or completion failure. Deadline
// errors become ErrProviderTimeout, everything else ErrProviderFailure.
// The original cause stays reachable through errors.Is.
func ProviderError(stage string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProviderTimeout) || errors.Is(err, ErrProviderFailure) {
		return NewStageError(stage, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewStageError(stage, fmt.Errorf("%w: %w", ErrProviderTimeout, err))
	}
	return NewStageError(stage, fmt.Errorf("%w: %w", ErrProviderFailure, err))
}
