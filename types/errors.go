package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNoUsableText means neither the text layer nor OCR produced anything.
	ErrNoUsableText = errors.New("no usable text could be extracted")

	// ErrUnsupportedFormat means the declared MIME type has no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrPipelineTimeout means the document-level deadline was exceeded.
	ErrPipelineTimeout = errors.New("analysis timed out")

	// ErrAnalysisNotFound means no run is registered for the document.
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrAnalysisRunning means the result was requested before completion.
	ErrAnalysisRunning = errors.New("analysis still in progress")

	// ErrServiceUnavailable means the external classification service is
	// persistently unreachable.
	ErrServiceUnavailable = errors.New("classification service unavailable")
)

// PipelineError wraps a stage failure with enough context for the status
// endpoint to report it.
type PipelineError struct {
	Stage     DocumentStatus
	Retryable bool
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError wraps err as a failure of the given stage.
func NewPipelineError(stage DocumentStatus, retryable bool, err error) *PipelineError {
	return &PipelineError{Stage: stage, Retryable: retryable, Err: err}
}
